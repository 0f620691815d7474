package tokenauth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

func readCookie(c echo.Context, name string) string {
	cookie, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (i *Interceptor) newCookie(name, value string, expires time.Time) *http.Cookie {
	cfg := i.config.Cookie
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  expires,
		Secure:   cfg.Secure,
		HttpOnly: cfg.HTTPOnly,
		SameSite: cfg.HTTPSameSite(),
	}
}

func (i *Interceptor) setCookie(c echo.Context, name, value string, expires time.Time) {
	c.SetCookie(i.newCookie(name, value, expires))
}

func (i *Interceptor) clearCookie(c echo.Context, name string) {
	cookie := i.newCookie(name, "", time.Unix(0, 0))
	cookie.MaxAge = -1
	c.SetCookie(cookie)
}

func (i *Interceptor) clearCookies(c echo.Context) {
	i.clearCookie(c, i.config.Cookie.RefreshName)
	i.clearCookie(c, i.config.Cookie.AccessName)
}
