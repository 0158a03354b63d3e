package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/fedinode/internal/common"
	"github.com/dmitrijs2005/fedinode/internal/federation/webfinger"
	"github.com/dmitrijs2005/fedinode/internal/server/models"
	"github.com/gorilla/mux"
)

type httpErrorResp struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(httpErrorResp{code, message}); err != nil {
		http.Error(w, message, code)
	}
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func respondOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

// statusOf maps service errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrValidation),
		errors.Is(err, common.ErrCrypto),
		errors.Is(err, common.ErrUnknownMessageKind):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondXRD(w http.ResponseWriter, r *http.Request, x *webfinger.XRD) {
	b, err := x.Marshal()
	if err != nil {
		s.logger.Error(r.Context(), "xrd marshal failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.Header().Set("Content-Type", webfinger.ContentTypeXRD+"; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (s *Server) handleHostMeta(w http.ResponseWriter, r *http.Request) {
	s.respondXRD(w, r, webfinger.HostMeta(s.opts.BaseURL))
}

func (s *Server) handleWebfinger(w http.ResponseWriter, r *http.Request) {
	s.webfinger(w, r, mux.Vars(r)["uri"])
}

func (s *Server) handleWebfingerQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uri := q.Get("resource")
	if uri == "" {
		uri = q.Get("q")
	}
	s.webfinger(w, r, uri)
}

func (s *Server) webfinger(w http.ResponseWriter, r *http.Request, uri string) {
	user, host, err := webfinger.SplitHandle(uri)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid handle")
		return
	}
	identity, _, err := s.identities.ByHandle(r.Context(), user+"@"+host)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondXRD(w, r, webfinger.AccountXRD(webfinger.Account{
		Handle:       identity.Handle,
		GUID:         identity.GUID,
		BaseURL:      s.opts.BaseURL,
		PublicKeyPEM: identity.PublicKey,
	}))
}

func (s *Server) handleHCard(w http.ResponseWriter, r *http.Request) {
	identity, contact, err := s.identities.ByGUID(r.Context(), mux.Vars(r)["guid"])
	if err != nil {
		s.fail(w, r, err)
		return
	}

	nick, _, _ := strings.Cut(identity.Handle, "@")
	card := webfinger.HCard{
		FullName:   contact.DisplayName,
		Nickname:   nick,
		URL:        s.opts.BaseURL,
		Searchable: contact.Bio != common.DeletedAccountBio,
	}
	if card.FullName == "" {
		card.FullName = nick
	}
	card.GivenName, card.FamilyName, _ = strings.Cut(card.FullName, " ")
	if photo := s.avatarURL(r, contact); photo != "" {
		card.PhotoLarge, card.PhotoMedium, card.PhotoSmall = photo, photo, photo
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := webfinger.RenderHCard(w, card); err != nil {
		s.logger.Error(r.Context(), "hcard render failed", "error", err)
	}
}

func (s *Server) avatarURL(r *http.Request, c *models.Contact) string {
	if c.AvatarKey == "" {
		return ""
	}
	u, err := s.media.URL(r.Context(), c.AvatarKey)
	if err != nil {
		s.logger.Warn(r.Context(), "avatar url failed", "key", c.AvatarKey, "error", err)
		return ""
	}
	return u
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBody))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "body too large")
		return nil, false
	}
	if len(body) == 0 {
		respondError(w, http.StatusBadRequest, "empty body")
		return nil, false
	}
	return body, true
}

func (s *Server) handleReceiveUser(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := s.inbox.ReceiveUser(r.Context(), mux.Vars(r)["guid"], body); err != nil {
		s.fail(w, r, err)
		return
	}
	respondOK(w)
}

// handleReceivePublic answers 400 for any failure; the envelope is already
// kept on the public queue with its error by then.
func (s *Server) handleReceivePublic(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := s.inbox.ReceivePublic(r.Context(), body); err != nil {
		s.logger.Warn(r.Context(), "public receive failed", "error", err)
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondOK(w)
}

func (s *Server) handlePeople(w http.ResponseWriter, r *http.Request) {
	entries, err := s.feeds.Export(r.Context(), mux.Vars(r)["guid"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, entries)
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.Get(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, st)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	body, contentType, err := s.media.Get(r.Context(), mux.Vars(r)["key"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type queueRunResp struct {
	Count int    `json:"count"`
	More  bool   `json:"more"`
	Next  string `json:"next,omitempty"`
}

// handleQueueRun drains the caller's queue for one time slice. Clients
// re-post to Next while More is set; processed carries the running count.
func (s *Server) handleQueueRun(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	actor, err := s.identities.Authenticate(r.Context(), token)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	processed := 0
	if v := r.URL.Query().Get("processed"); v != "" {
		processed, err = strconv.Atoi(v)
		if err != nil || processed < 0 {
			respondError(w, http.StatusBadRequest, "invalid processed count")
			return
		}
	}

	budget := s.opts.BatchBudget
	if processed == 0 {
		budget = s.opts.FirstBatchBudget
	}

	st, err := s.inbox.Drain(r.Context(), actor, budget)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := queueRunResp{Count: processed + st.Processed, More: st.More}
	if st.More {
		resp.Next = "/queue/run?processed=" + strconv.Itoa(resp.Count)
	}
	if st.Blocked {
		s.logger.Info(r.Context(), "queue blocked", "handle", actor.Identity.Handle)
	}
	respondJSON(w, resp)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		respondError(w, code, "internal server error")
		return
	}
	respondError(w, code, http.StatusText(code))
}
