package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ignite/reviewloop/internal/domain"
	"github.com/ignite/reviewloop/internal/pkg/httputil"
	"github.com/ignite/reviewloop/internal/service/feedback"
)

type ratingRequest struct {
	Token       string `json:"token"`
	Rating      int    `json:"rating"`
	Destination string `json:"destination"`
}

type feedbackRequest struct {
	Token   string `json:"token"`
	Message string `json:"message"`
}

type optOutRequest struct {
	Token   string         `json:"token"`
	Channel domain.Channel `json:"channel"`
}

// handleRating records a 1-5 rating and tells the page where to go next.
//
//	POST /r/rating
func (s *Server) handleRating(w http.ResponseWriter, r *http.Request) {
	var req ratingRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	res, err := s.deps.Feedback.SubmitRating(r.Context(), req.Token, req.Rating, req.Destination)
	if err != nil {
		writeFeedbackError(w, err)
		return
	}
	httputil.OK(w, res)
}

// handleFeedback stores private feedback after a low rating.
//
//	POST /r/feedback
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	fb, err := s.deps.Feedback.SubmitFeedback(r.Context(), req.Token, req.Message)
	if err != nil {
		writeFeedbackError(w, err)
		return
	}
	httputil.JSON(w, http.StatusCreated, map[string]string{"feedback_id": fb.ID})
}

// handleOptOutPage answers the link embedded in messages with a confirmation
// form. Nothing changes until the form is posted back.
//
//	GET /r/opt-out?t=<token>&c=email
func (s *Server) handleOptOutPage(w http.ResponseWriter, r *http.Request) {
	ch := optOutChannel(r.URL.Query().Get("c"))
	if err := s.deps.Feedback.CheckOptOut(r.URL.Query().Get("t"), ch); err != nil {
		writeFeedbackError(w, err)
		return
	}
	what := "emails"
	if ch == domain.ChannelSMS {
		what = "text messages"
	}
	writeHTML(w, `<!DOCTYPE html><html><body style="font-family:Arial;text-align:center;padding:50px;">
		<h1>Stop review requests?</h1>
		<p>You will no longer receive `+what+` asking about your service.</p>
		<form method="post"><button type="submit">Unsubscribe</button></form>
	</body></html>`)
}

// handleOptOut stops outreach on one channel. A JSON body comes from the
// rating page; a form post comes from the confirmation page or a mail
// client's one-click unsubscribe, with the token in the query string.
//
//	POST /r/opt-out
func (s *Server) handleOptOut(w http.ResponseWriter, r *http.Request) {
	isJSON := strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
	req := optOutRequest{
		Token:   r.URL.Query().Get("t"),
		Channel: domain.Channel(r.URL.Query().Get("c")),
	}
	if isJSON && !httputil.Decode(w, r, &req) {
		return
	}
	req.Channel = optOutChannel(string(req.Channel))
	if err := s.deps.Feedback.OptOut(r.Context(), req.Token, req.Channel); err != nil {
		writeFeedbackError(w, err)
		return
	}
	if !isJSON {
		writeHTML(w, `<!DOCTYPE html><html><body style="font-family:Arial;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will not receive further review requests from us.</p>
	</body></html>`)
		return
	}
	httputil.OK(w, map[string]string{"status": "opted_out", "channel": string(req.Channel)})
}

func optOutChannel(c string) domain.Channel {
	if c == "" {
		return domain.ChannelEmail
	}
	return domain.Channel(c)
}

func writeHTML(w http.ResponseWriter, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(page))
}

func writeFeedbackError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, feedback.ErrInvalidToken):
		httputil.ErrorCode(w, http.StatusUnauthorized, "invalid_token", err.Error())
	case errors.Is(err, feedback.ErrInvalidRating),
		errors.Is(err, feedback.ErrEmptyFeedback),
		errors.Is(err, feedback.ErrInvalidChannel):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, feedback.ErrFeedbackNotAllowed):
		httputil.ErrorCode(w, http.StatusConflict, "feedback_not_allowed", err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
