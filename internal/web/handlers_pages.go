package web

import (
	"net/http"

	"github.com/a-h/templ"

	"github.com/loliloopp/PassDesk-sub001/internal/core"
	"github.com/loliloopp/PassDesk-sub001/internal/web/views"
)

func (s *Server) handleSessionsPage(w http.ResponseWriter, r *http.Request) {
	sessions := s.service.Sessions(r.URL.Query().Get("ownerId"))
	list := make([]core.SessionView, len(sessions))
	for i, sess := range sessions {
		list[i] = sess.View()
	}
	templ.Handler(views.Layout("Employee imports", views.SessionList(list))).ServeHTTP(w, r)
}

// handleSessionPage shows the results of one import.
func (s *Server) handleSessionPage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	templ.Handler(views.Layout("Import "+sess.ID, views.Session(sess.View()))).ServeHTTP(w, r)
}
