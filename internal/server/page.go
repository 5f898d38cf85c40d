package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"entity-privacy-wrapper/internal/alias"
	"entity-privacy-wrapper/internal/session"
)

// cookieName holds the browser session ID.
const cookieName = "pw_session"

type pageData struct {
	session.View
	Error string
}

// pageSession returns the cookie session, starting a new one when the cookie
// is missing or its session has expired.
func (s *Server) pageSession(w http.ResponseWriter, r *http.Request) session.View {
	if c, err := r.Cookie(cookieName); err == nil {
		if v, err := s.sessions.Get(c.Value); err == nil {
			return v
		}
	}
	v := s.sessions.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    v.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return v
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, http.StatusOK, s.pageSession(w, r), "")
}

func (s *Server) renderPage(w http.ResponseWriter, status int, v session.View, msg string) {
	var buf bytes.Buffer
	if err := s.page.Execute(&buf, pageData{View: v, Error: msg}); err != nil {
		s.log.Errorf("render", "page template: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// formAction parses the form, runs fn against the cookie session and either
// redirects back to the page or re-renders it with the error.
func (s *Server) formAction(w http.ResponseWriter, r *http.Request, fn func(id string) error) {
	v := s.pageSession(w, r)
	s.limitBody(w, r)
	err := r.ParseForm()
	if err == nil {
		err = fn(v.ID)
	}
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.log.Errorf("error", "%v", err)
		}
		if current, getErr := s.sessions.Get(v.ID); getErr == nil {
			v = current
		}
		s.renderPage(w, status, v, errorMessage(err, status))
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handlePageDetect(w http.ResponseWriter, r *http.Request) {
	s.formAction(w, r, func(id string) error {
		if err := s.allowDetect(); err != nil {
			return err
		}
		_, err := s.sessions.Detect(r.Context(), id, r.PostForm.Get("raw_text"))
		return err
	})
}

func (s *Server) handlePageEncode(w http.ResponseWriter, r *http.Request) {
	s.formAction(w, r, func(id string) error {
		edits, err := formEdits(r)
		if err != nil {
			return err
		}
		if _, err := s.sessions.Edit(id, edits); err != nil {
			return err
		}
		_, err = s.sessions.Encode(id)
		return err
	})
}

func (s *Server) handlePageDecode(w http.ResponseWriter, r *http.Request) {
	s.formAction(w, r, func(id string) error {
		_, _, err := s.sessions.Decode(id, r.PostForm.Get("encoded_reply"))
		return err
	})
}

func (s *Server) handlePageReset(w http.ResponseWriter, r *http.Request) {
	s.formAction(w, r, s.sessions.Reset)
}

// maxFormRows bounds the review table a single form may submit.
const maxFormRows = 10000

// formEdits reads the review table rows original_<i>, alias_<i> and
// include_<i>, numbered from zero without gaps.
func formEdits(r *http.Request) ([]alias.Edit, error) {
	var edits []alias.Edit
	for i := 0; ; i++ {
		key := strconv.Itoa(i)
		if _, ok := r.PostForm["original_"+key]; !ok {
			break
		}
		if i >= maxFormRows {
			return nil, fmt.Errorf("%w: more than %d rows", errBadRequest, maxFormRows)
		}
		edits = append(edits, alias.Edit{
			Original:    r.PostForm.Get("original_" + key),
			Placeholder: r.PostForm.Get("alias_" + key),
			Include:     r.PostForm.Get("include_"+key) != "",
		})
	}
	return edits, nil
}
