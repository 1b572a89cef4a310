// Package session builds the HTTP client used against Steam.
//
// Steam's comment notification pages require a logged-in session.
// Rather than drive the login flow (which needs a two-factor code),
// the monitor reuses cookies exported from a browser session; the
// public workshop pages work with an anonymous client.
package session

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

const steamCommunity = "https://steamcommunity.com"

// Client returns an HTTP client whose cookie jar carries the given
// Steam community cookies, typically sessionid and steamLoginSecure.
func Client(cookies map[string]string) (*http.Client, error) {
	if len(cookies) == 0 {
		return nil, fmt.Errorf("no session cookies configured")
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	u, err := url.Parse(steamCommunity)
	if err != nil {
		return nil, fmt.Errorf("parse steam url: %w", err)
	}
	var cs []*http.Cookie
	for name, value := range cookies {
		cs = append(cs, &http.Cookie{
			Name:   name,
			Value:  value,
			Path:   "/",
			Domain: "steamcommunity.com",
			Secure: true,
		})
	}
	jar.SetCookies(u, cs)

	return &http.Client{Jar: jar, Timeout: 30 * time.Second}, nil
}

// Anonymous returns a cookie-less client for the public pages.
func Anonymous() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
