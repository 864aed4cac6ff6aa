package main

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"
)

// recoverPanics turns panics into 500 responses, except http.ErrAbortHandler.
// The reverse proxy raises that one when the engine breaks off a response
// that is already being relayed; it has to reach the server so the client
// connection is aborted instead of the truncated body being completed.
func recoverPanics(h http.Handler) http.Handler {
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(logrus.StandardLogger()),
		handlers.PrintRecoveryStack(true),
	)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		aborted := false
		recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						aborted = true
						return
					}
					panic(p)
				}
			}()
			h.ServeHTTP(w, r)
		})).ServeHTTP(w, r)
		if aborted {
			panic(http.ErrAbortHandler)
		}
	})
}
