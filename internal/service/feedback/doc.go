// Package feedback handles what a customer does after following a review
// link: rating the business, leaving private feedback, or opting out. The
// signed token from the link is the only credential.
package feedback
