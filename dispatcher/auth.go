package dispatcher

import (
	"context"
	"net/http"
	"strings"

	"lineup"
	"lineup/db"
)

type contextKey string

const botContextKey contextKey = "bot"

// requireAuth parses "Authorization: Bearer <token>", resolves it to a
// Bot via d, and stashes the Bot on the request context before calling
// next. A missing header, malformed scheme, or unknown token is
// rejected with 401, matching the pack's Bearer-token middleware shape
// (jonradoff-chessmata's AuthMiddleware.RequireAuth) generalized from
// JWT-plus-DB-lookup to the Dispatcher's flat bot-token lookup.
func requireAuth(d *db.DB, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			http.Error(w, "Authorization: Bearer <token> required", http.StatusUnauthorized)
			return
		}

		bot, err := d.BotByToken(r.Context(), parts[1])
		if err != nil || bot == nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), botContextKey, bot)
		next(w, r.WithContext(ctx))
	}
}

func botFromContext(ctx context.Context) *lineup.Bot {
	bot, _ := ctx.Value(botContextKey).(*lineup.Bot)
	return bot
}
