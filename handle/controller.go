package handle

import (
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// InitializeRoutes installs the middleware shared by every route and the
// public health checks. Callers add their API routes afterwards.
func InitializeRoutes(Router *mux.Router) {
	Router.Use(handlers.RecoveryHandler(
		handlers.RecoveryLogger(logrus.StandardLogger()),
		handlers.PrintRecoveryStack(false),
	))
	Router.Use(accessLog)
	Router.Handle("/", health()).Methods("GET")
	Router.Handle("/health_check", health()).Methods("GET")
	Router.Handle("/api/health", health()).Methods("GET")
}
