package api

import (
	"log"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"gorm.io/gorm"

	"github.com/yatube/yatube-server/service/groups"
	"github.com/yatube/yatube-server/service/posts"
	"github.com/yatube/yatube-server/service/user"
)

type APIServer struct {
	address string
	db      *gorm.DB
}

func NewApiServer(address string, db *gorm.DB) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
	}
}

// Router builds the full route table with the custom error pages and the
// access-log and panic-recovery wrappers.
func (s *APIServer) Router() http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(notFoundPage)
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedPage)

	subrouter := router.PathPrefix("/api/v1").Subrouter()
	// Subrouters do not inherit the parent's error handlers.
	subrouter.NotFoundHandler = http.HandlerFunc(notFoundPage)
	subrouter.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedPage)

	userHandler := user.NewHandler(s.db)
	userHandler.RegisterRoutes(subrouter)

	postHandler := posts.NewPostHandler(s.db)
	postHandler.RegisterRoutes(subrouter)

	groupHandler := groups.NewGroupHandler(s.db)
	groupHandler.RegisterRoutes(subrouter)

	return handlers.LoggingHandler(os.Stdout,
		handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(router))
}

func (s *APIServer) Run() error {
	log.Println("Server running at", s.address)
	return http.ListenAndServe(s.address, s.Router())
}
