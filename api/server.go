/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. requestLogger: Structured request logging (zap)
  4. CORS:       Cross-origin requests for frontend
  5. authenticate: Bearer-token identity on everything except the
     provider webhook, which authenticates by signature instead.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/localspot/localspot/identity"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Provider webhook: no identity, signature-verified in the handler.
		r.Post("/payments/webhook", h.HandleWebhook)

		// Everything else requires an authenticated user.
		r.Group(func(r chi.Router) {
			r.Use(authenticate(h.Verifier))

			r.Get("/auth/user", h.GetUser)

			r.Route("/businesses", func(r chi.Router) {
				r.Post("/", h.CreateBusiness)
				r.Get("/{id}", h.GetBusiness)
				r.Get("/{id}/transactions", h.GetBusinessTransactions)

				r.Post("/{id}/follow", h.FollowBusiness)
				r.Delete("/{id}/follow", h.UnfollowBusiness)
				r.Get("/{id}/is-following", h.IsFollowing)

				r.Post("/{id}/join-loyalty", h.JoinLoyalty)
				r.Post("/{id}/loyalty-program", h.UpsertLoyaltyProgram)
				r.Get("/{id}/loyalty-program", h.GetLoyaltyProgram)

				r.Post("/{id}/gift-cards", h.PurchaseGiftCard)
			})

			r.Post("/gift-cards/redeem", h.RedeemGiftCard)

			r.Route("/user", func(r chi.Router) {
				r.Get("/follows", h.ListFollows)
				r.Get("/loyalty-accounts", h.ListLoyaltyAccounts)
				r.Get("/gift-cards", h.ListGiftCards)
				r.Get("/transactions", h.ListTransactions)
			})

			r.Post("/create-payment-intent", h.CreatePaymentIntent)
			r.Post("/get-or-create-subscription", h.GetOrCreateSubscription)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/recount-followers", h.RecountFollowers)
			})
		})
	})

	return r
}

// authenticate resolves the bearer token to a UserID and stores it on
// the request context. 401 on anything else.
func authenticate(verifier identity.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
				return
			}
			userID, err := verifier.Verify(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid bearer token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), userID)))
		})
	}
}

// requestLogger logs one structured line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
