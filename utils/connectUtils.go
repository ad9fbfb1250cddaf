package utils

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
)

// CheckError aborts startup on err.
func CheckError(err error) {
	if err != nil {
		logrus.WithError(err).Fatal("startup failed")
	}
}

// Quit blocks until SIGINT or SIGTERM, then runs the close functions in order.
func Quit(serviceName string, closers ...func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	signal.Stop(quit)
	logrus.WithField("signal", sig.String()).Infof("closing %s", serviceName)
	for _, c := range closers {
		c()
	}
}
