package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rise-n-smoke/ordering/internal/cart"
	"github.com/rise-n-smoke/ordering/internal/platform/requestctx"
)

// CartSessionHeader carries the cart session for clients that cannot hold cookies.
const CartSessionHeader = "X-Cart-Session"

const cartSessionMaxAge = 30 * 24 * 60 * 60

// CartSessionMiddleware resolves the cart session from the header or the cart
// cookie and stores it on the request context. Missing sessions are left
// empty; handlers that need one call ensureCartSession.
func CartSessionMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := sessionFromRequest(r); id != "" {
				r = r.WithContext(requestctx.WithCartSession(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sessionFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(CartSessionHeader)); id != "" {
		return id
	}
	if cookie, err := r.Cookie(cart.StorageKey); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// ensureCartSession returns the request's session, minting and announcing a
// new one when the client has none.
func ensureCartSession(w http.ResponseWriter, r *http.Request) string {
	if id := requestctx.CartSession(r.Context()); id != "" {
		return id
	}
	if id := sessionFromRequest(r); id != "" {
		return id
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     cart.StorageKey,
		Value:    id,
		Path:     "/",
		MaxAge:   cartSessionMaxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(CartSessionHeader, id)
	return id
}
