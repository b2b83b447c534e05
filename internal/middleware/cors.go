package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"
)

// originSet 是规范化后的来源白名单，"*" 表示任意来源。
type originSet struct {
	any   bool
	exact map[string]struct{}
}

func newOriginSet(origins []string) originSet {
	cleaned := lo.FilterMap(origins, func(o string, _ int) (string, bool) {
		o = normalizeOrigin(o)
		return o, o != ""
	})
	return originSet{
		any:   lo.Contains(cleaned, "*"),
		exact: lo.SliceToMap(cleaned, func(o string) (string, struct{}) { return o, struct{}{} }),
	}
}

func normalizeOrigin(o string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
}

func (s originSet) listed(origin string) bool {
	_, ok := s.exact[normalizeOrigin(origin)]
	return ok
}

// OriginAllowed 返回与 CORS 共用白名单的来源校验函数，供 WebSocket upgrader 使用。
// 未携带 Origin 的非浏览器请求与同源请求总是放行。
func OriginAllowed(origins []string) func(r *http.Request) bool {
	set := newOriginSet(origins)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set.any || set.listed(origin) {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// CORS 返回允许 origins 跨域访问的中间件。白名单为空时不下发任何 CORS 头；
// "*" 放行任意来源但不携带凭证，只有显式列出的来源才允许凭证。
func CORS(origins []string) func(http.Handler) http.Handler {
	set := newOriginSet(origins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case origin == "":
			case set.listed(origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			case set.any:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
