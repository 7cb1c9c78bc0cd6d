package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/roach88/shelfshare/internal/domain"
	"github.com/roach88/shelfshare/internal/lending"
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	req, err := s.svc.SubmitRequest(r.Context(), mux.Vars(r)["bookId"], who)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleDecide(outcome string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, ok := actor(w, r)
		if !ok {
			return
		}
		req, err := s.svc.Decide(r.Context(), who, mux.Vars(r)["requestId"], outcome)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	req, err := s.svc.Cancel(r.Context(), who, mux.Vars(r)["requestId"])
	if err != nil {
		writeError(w, err, cancelStatus)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.svc.GetRequest(r.Context(), mux.Vars(r)["requestId"])
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.svc.RequestsForBook(r.Context(), mux.Vars(r)["bookId"])
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handlePostBook(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	var nb lending.NewBook
	if !decode(w, r, &nb) {
		return
	}
	book, err := s.svc.PostBook(r.Context(), who, nb)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.svc.GetBook(r.Context(), mux.Vars(r)["bookId"])
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	if err := s.svc.DeleteBook(r.Context(), who, mux.Vars(r)["bookId"]); err != nil {
		writeError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Body string `json:"body"`
	}
	if !decode(w, r, &body) {
		return
	}
	c, err := s.svc.Comment(r.Context(), who, mux.Vars(r)["bookId"], body.Body)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	book, err := s.svc.ResetAvailability(r.Context(), who, mux.Vars(r)["bookId"])
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// handleCreateUser is called by the signup flow after the account exists
// upstream, so it takes the handle from the header like every other route.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	var nu lending.NewUser
	if !decode(w, r, &nu) {
		return
	}
	if nu.Handle != "" && nu.Handle != who {
		writeMessage(w, http.StatusForbidden, "handle does not match "+ActorHeader)
		return
	}
	nu.Handle = who
	// Opening balances are not client-controlled.
	nu.Tickets = 0
	u, err := s.svc.CreateUser(r.Context(), nu)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.svc.GetUser(r.Context(), mux.Vars(r)["handle"])
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	var p lending.ProfileUpdate
	if !decode(w, r, &p) {
		return
	}
	u, err := s.svc.UpdateProfile(r.Context(), who, p)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	ns, err := s.svc.Notifications(r.Context(), who)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	var ids []string
	if !decode(w, r, &ids) {
		return
	}
	if err := s.svc.MarkNotificationsRead(r.Context(), who, ids); err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Notifications marked read"})
}

func (s *Server) handleGetHall(w http.ResponseWriter, r *http.Request) {
	h, err := s.svc.GetHall(r.Context(), mux.Vars(r)["location"])
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleJoinHall(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	h, err := s.svc.AddHallMember(r.Context(), mux.Vars(r)["location"], who)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// handleListBooks lists every book, or the books of one location when
// ?location= is given.
func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	var (
		books []domain.Book
		err   error
	)
	if loc := r.URL.Query().Get("location"); loc != "" {
		books, err = s.svc.BooksByLocation(r.Context(), loc)
	} else {
		books, err = s.svc.Books(r.Context())
	}
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleUserBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.svc.BooksByOwner(r.Context(), mux.Vars(r)["handle"])
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleAddDesired(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	d, err := s.svc.AddDesired(r.Context(), who, mux.Vars(r)["bookId"])
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleRemoveDesired(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	if err := s.svc.RemoveDesired(r.Context(), who, mux.Vars(r)["bookId"]); err != nil {
		writeError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDesireds(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	ds, err := s.svc.Desireds(r.Context(), who)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) handleCreateHall(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.admin(w, r); !ok {
		return
	}
	var body struct {
		Location string `json:"location"`
		ImageURL string `json:"imageUrl"`
	}
	if !decode(w, r, &body) {
		return
	}
	h, err := s.svc.CreateHall(r.Context(), body.Location, body.ImageURL)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, h)
}

func (s *Server) handleBuyAccounts(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.admin(w, r); !ok {
		return
	}
	var body struct {
		Count int64 `json:"count"`
	}
	if !decode(w, r, &body) {
		return
	}
	h, err := s.svc.BuyHallAccounts(r.Context(), mux.Vars(r)["location"], body.Count)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleResidents(w http.ResponseWriter, r *http.Request) {
	rs, err := s.svc.UsersByLocation(r.Context(), mux.Vars(r)["location"])
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (s *Server) handleHallStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.BooksPerMember(r.Context(), mux.Vars(r)["location"])
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
