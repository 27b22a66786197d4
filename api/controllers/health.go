package controllers

import (
	"context"
	"net/http"

	"github.com/coachloop/coachloop-backend/api/responses"
	"github.com/coachloop/coachloop-backend/pkg/config"
	pkgerrors "github.com/coachloop/coachloop-backend/pkg/errors"
	"github.com/coachloop/coachloop-backend/pkg/logger"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CoachLoop-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready only when the backing stores answer a ping.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, redisP pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-CoachLoop-Env", cfg.App.Env)

		checks := []struct {
			name string
			dep  pinger
		}{
			{"db", dbP},
			{"redis", redisP},
		}
		for _, check := range checks {
			if check.dep == nil {
				continue
			}
			if err := check.dep.Ping(r.Context()); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, check.name+" not ready"))
				return
			}
		}

		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
