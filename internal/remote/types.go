package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// AuthToken is the bearer credential issued by the upstream authz endpoint.
// It is held by a single fetch run and never persisted.
type AuthToken struct {
	// Value is the opaque token string.
	Value string

	// AcquiredAt is when the token was issued to us.
	AcquiredAt time.Time

	// ExpiresAt is the expiry the upstream embedded in the token, when the
	// token happens to be a JWT carrying an exp claim.
	ExpiresAt fn.Option[time.Time]
}

// Expired reports whether the upstream-declared expiry has passed. Tokens
// without a declared expiry never report expired.
func (t AuthToken) Expired(now time.Time) bool {
	exp := t.ExpiresAt.UnwrapOr(time.Time{})

	return !exp.IsZero() && !now.Before(exp)
}

// bearer returns the Authorization header value for the token.
func (t AuthToken) bearer() string {
	return "Bearer " + t.Value
}

// newAuthToken wraps a raw token value, extracting the exp claim without
// verifying the signature. We never have the upstream's key; the claim is
// only used to decide when to re-authenticate.
func newAuthToken(value string, now time.Time) AuthToken {
	tok := AuthToken{
		Value:      value,
		AcquiredAt: now,
		ExpiresAt:  fn.None[time.Time](),
	}

	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(value, &claims)
	if err == nil && claims.ExpiresAt != nil {
		tok.ExpiresAt = fn.Some(claims.ExpiresAt.Time)
	}

	return tok
}

// EntityRef identifies one dining location returned by discovery.
type EntityRef struct {
	// ID is the upstream entity id.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Location is the land or area the entity belongs to.
	Location string `json:"location"`

	// URLFriendlyID is the slug the menu endpoint is queried with. Entities
	// without one have no menu to fetch.
	URLFriendlyID string `json:"url_friendly_id,omitempty"`

	// Info is the descriptive metadata discovery carried for the entity.
	Info EntityInfo `json:"info"`
}

// EntityInfo is what discovery says about a dining location beyond its
// identity. Every field is optional upstream; absent fields stay zero.
type EntityInfo struct {
	URL              string `json:"url,omitempty"`
	EntityType       string `json:"entity_type,omitempty"`
	FacilityID       string `json:"facility_id,omitempty"`
	MaximumPartySize string `json:"maximum_party_size,omitempty"`
	QuickService     bool   `json:"quick_service"`

	PriceRange  []string `json:"price_range,omitempty"`
	Cuisines    []string `json:"cuisine_types,omitempty"`
	DiningTypes []string `json:"dining_types,omitempty"`

	// Coordinates holds one point per entrance. Markers report a single
	// "Main" entrance.
	Coordinates []Coordinate `json:"coordinates,omitempty"`

	AdditionalInfo string     `json:"additional_info,omitempty"`
	ProductURLs    []string   `json:"product_urls,omitempty"`
	Thumbnail      *Thumbnail `json:"thumbnail,omitempty"`
}

// Coordinate is the GPS position of one entrance, kept in the textual form
// the upstream sent.
type Coordinate struct {
	Entrance  string `json:"entrance"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

// Thumbnail is the listing image of an entity.
type Thumbnail struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// HasDetail reports whether the entity has a menu that can be fetched.
func (e EntityRef) HasDetail() bool {
	return e.URLFriendlyID != ""
}

// EntityList is the parsed discovery payload together with the raw bytes
// it was parsed from.
type EntityList struct {
	Entities []EntityRef

	// Raw is the untouched upstream body.
	Raw []byte
}

// DetailRecord is the menu of a single entity: meal periods, each with
// groups of items.
type DetailRecord struct {
	MealPeriods []MealPeriod `json:"mealPeriods"`

	// Raw is the untouched upstream body.
	Raw []byte `json:"-"`
}

// MealPeriod is a named serving period such as breakfast or dinner.
type MealPeriod struct {
	Name   string      `json:"name"`
	Groups []MenuGroup `json:"groups"`
}

// MenuGroup is a category of items within a meal period.
type MenuGroup struct {
	Name  string     `json:"name"`
	Items []MenuItem `json:"items"`
}

// MenuItem is a single orderable item.
type MenuItem struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Prices      []Price `json:"prices"`
}

// Price returns the pre-tax amount of the item's first price entry, or nil
// when the upstream reports no price for the item.
func (m MenuItem) Price() *string {
	if len(m.Prices) == 0 || m.Prices[0].WithoutTax == "" {
		return nil
	}

	p := string(m.Prices[0].WithoutTax)
	return &p
}

// Price is one price variant of an item.
type Price struct {
	// Size labels the variant (for example a regular or large drink), when
	// the upstream provides one.
	Size string `json:"size,omitempty"`

	WithoutTax Amount `json:"withoutTax"`
	WithTax    Amount `json:"withTax"`
}

// Amount is a decimal amount kept in its textual form. The upstream sends
// amounts either as JSON numbers or as strings; both decode to the same
// value. The empty Amount means no amount was given.
type Amount string

// UnmarshalJSON accepts a number, a string or null.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)

	switch {
	case bytes.Equal(b, []byte("null")):
		*a = ""
		return nil

	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}

		s = strings.TrimPrefix(strings.TrimSpace(s), "$")
		if strings.EqualFold(s, "N/A") {
			s = ""
		}
		*a = Amount(s)

		return nil

	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("amount %s is not a number", b)
		}
		*a = Amount(n.String())

		return nil
	}
}
