package client

import (
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const amzDateFormat = "20060102T150405Z"

// LocatorExpiry returns the expiry embedded in a signed locator: the exp
// claim of a JWT carried in the "token" query parameter, or the
// X-Amz-Date/X-Amz-Expires pair of an S3 presigned URL. ok is false when
// the locator carries neither.
func LocatorExpiry(locator string) (exp time.Time, ok bool) {
	u, err := url.Parse(locator)
	if err != nil {
		return time.Time{}, false
	}
	q := u.Query()

	if tok := q.Get("token"); tok != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
			return time.Time{}, false
		}
		e, err := claims.GetExpirationTime()
		if err != nil || e == nil {
			return time.Time{}, false
		}
		return e.Time, true
	}

	date, expires := q.Get("X-Amz-Date"), q.Get("X-Amz-Expires")
	if date == "" || expires == "" {
		return time.Time{}, false
	}
	signed, err := time.Parse(amzDateFormat, date)
	if err != nil {
		return time.Time{}, false
	}
	secs, err := strconv.Atoi(expires)
	if err != nil {
		return time.Time{}, false
	}
	return signed.Add(time.Duration(secs) * time.Second), true
}

// ExpiresWithin reports whether locator expires before now+margin. Locators
// without an embedded expiry never do.
func ExpiresWithin(locator string, now time.Time, margin time.Duration) bool {
	exp, ok := LocatorExpiry(locator)
	if !ok {
		return false
	}
	return exp.Before(now.Add(margin))
}
