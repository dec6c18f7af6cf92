package remote

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

const (
	opListEntities = "list_entities"
	opFetchDetail  = "fetch_detail"
	opAuthenticate = "authenticate"

	// unknownName is substituted for names the upstream leaves empty.
	unknownName = "Unknown"

	markerEntityType = "restaurant"
	markerEntrance   = "Main"
)

// discoveryPayload mirrors the subset of the explorer-service response that
// we consume.
type discoveryPayload struct {
	Results []discoveryResult `json:"results"`
}

type discoveryResult struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	URLFriendlyID string           `json:"urlFriendlyId"`
	LocationName  string           `json:"locationName"`
	Marker        *discoveryMarker `json:"marker,omitempty"`

	URL              looseText                      `json:"url,omitempty"`
	EntityType       looseText                      `json:"entityType,omitempty"`
	FacilityID       looseText                      `json:"facilityId,omitempty"`
	MaximumPartySize looseText                      `json:"maximumPartySize,omitempty"`
	QuickService     lenient[bool]                  `json:"quickServiceAvailable"`
	Facets           lenient[discoveryFacets]       `json:"facets"`
	Restaurants      lenient[[]discoveryRestaurant] `json:"restaurants"`
	Media            lenient[discoveryMedia]        `json:"media"`
	Strings          lenient[discoveryStrings]      `json:"generalPurposeStrings"`
	ProductURLs      lenient[[]looseText]           `json:"productUrls"`
}

// discoveryMarker is a map pin attached to a result. Markers sometimes point
// at a restaurant that is not itself listed in results.
type discoveryMarker struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	URLFriendlyID string `json:"urlFriendlyId"`

	URL looseText `json:"url,omitempty"`
	Lat looseText `json:"lat,omitempty"`
	Lng looseText `json:"lng,omitempty"`
}

type discoveryFacets struct {
	PriceRange   []looseText `json:"priceRange"`
	Cuisine      []looseText `json:"cuisine"`
	TableService []looseText `json:"tableService"`
}

// discoveryRestaurant carries the entrances of one physical restaurant,
// keyed by entrance name.
type discoveryRestaurant struct {
	Coordinates lenient[map[string]discoveryCoordinate] `json:"coordinates"`
}

type discoveryCoordinate struct {
	GPS *struct {
		Latitude  looseText `json:"latitude"`
		Longitude looseText `json:"longitude"`
	} `json:"gps"`
}

type discoveryMedia struct {
	Thumb *struct {
		URL looseText `json:"url"`
		Alt looseText `json:"alt"`
	} `json:"finderStandardThumb"`
}

type discoveryStrings struct {
	DiningAdditionalInfo looseText `json:"diningAdditionalInfo"`
}

// info collects the result's metadata.
func (r discoveryResult) info() EntityInfo {
	info := EntityInfo{
		URL:              string(r.URL),
		EntityType:       string(r.EntityType),
		FacilityID:       string(r.FacilityID),
		MaximumPartySize: string(r.MaximumPartySize),
		QuickService:     r.QuickService.V,
		PriceRange:       texts(r.Facets.V.PriceRange),
		Cuisines:         texts(r.Facets.V.Cuisine),
		DiningTypes:      texts(r.Facets.V.TableService),
		AdditionalInfo:   string(r.Strings.V.DiningAdditionalInfo),
		ProductURLs:      texts(r.ProductURLs.V),
	}

	for _, rest := range r.Restaurants.V {
		entrances := make([]string, 0, len(rest.Coordinates.V))
		for name := range rest.Coordinates.V {
			entrances = append(entrances, name)
		}
		sort.Strings(entrances)

		for _, name := range entrances {
			gps := rest.Coordinates.V[name].GPS
			if gps == nil || (gps.Latitude == "" && gps.Longitude == "") {
				continue
			}
			info.Coordinates = append(info.Coordinates, Coordinate{
				Entrance:  name,
				Latitude:  string(gps.Latitude),
				Longitude: string(gps.Longitude),
			})
		}
	}

	if thumb := r.Media.V.Thumb; thumb != nil && thumb.URL != "" {
		info.Thumbnail = &Thumbnail{
			URL: string(thumb.URL),
			Alt: string(thumb.Alt),
		}
	}

	return info
}

// info collects the marker's metadata. Markers are always restaurants.
func (m discoveryMarker) info() EntityInfo {
	info := EntityInfo{
		URL:        string(m.URL),
		EntityType: markerEntityType,
	}
	if m.Lat != "" && m.Lng != "" {
		info.Coordinates = []Coordinate{{
			Entrance:  markerEntrance,
			Latitude:  string(m.Lat),
			Longitude: string(m.Lng),
		}}
	}

	return info
}

// lenient decodes T when the upstream sends the expected shape and keeps
// whatever decoded otherwise. Optional metadata that changes shape must not
// fail the whole discovery parse.
type lenient[T any] struct {
	V T
}

// UnmarshalJSON implements json.Unmarshaler and never fails.
func (l *lenient[T]) UnmarshalJSON(b []byte) error {
	_ = json.Unmarshal(b, &l.V)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (l lenient[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.V)
}

// looseText is a scalar kept as text. Strings, numbers and booleans decode
// to their text; an object contributes its url or name field; anything else
// decodes to the empty string.
type looseText string

// UnmarshalJSON implements json.Unmarshaler and never fails.
func (t *looseText) UnmarshalJSON(b []byte) error {
	*t = ""

	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}

	switch v := v.(type) {
	case string:
		*t = looseText(strings.TrimSpace(v))
	case float64, bool:
		*t = looseText(bytes.TrimSpace(b))
	case map[string]any:
		for _, key := range []string{"url", "name"} {
			if s, ok := v[key].(string); ok && s != "" {
				*t = looseText(s)
				break
			}
		}
	}

	return nil
}

// texts drops empty entries and returns nil for an empty list.
func texts(in []looseText) []string {
	var out []string
	for _, t := range in {
		if t != "" {
			out = append(out, string(t))
		}
	}

	return out
}

// ParseEntities validates a discovery body and extracts the entity list.
// Each result contributes its own entity followed by its marker's entity;
// duplicates by id keep the first occurrence and entries without an id are
// dropped. Descriptive metadata is decoded leniently: a malformed optional
// field is left empty rather than failing the parse.
func ParseEntities(raw []byte) (EntityList, error) {
	if !isObject(raw) {
		return EntityList{}, &Error{
			Kind: KindParse,
			Op:   opListEntities,
			Msg:  "response body is not a JSON object",
		}
	}

	var payload discoveryPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return EntityList{}, &Error{
			Kind: KindParse,
			Op:   opListEntities,
			Msg:  "decode entities",
			Err:  err,
		}
	}

	var (
		entities = make([]EntityRef, 0, len(payload.Results))
		seen     = make(map[string]struct{}, len(payload.Results))
	)
	add := func(ref EntityRef) {
		if ref.ID == "" {
			return
		}
		if _, ok := seen[ref.ID]; ok {
			return
		}
		if ref.Name == "" {
			ref.Name = unknownName
		}

		seen[ref.ID] = struct{}{}
		entities = append(entities, ref)
	}

	for _, res := range payload.Results {
		add(EntityRef{
			ID:            res.ID,
			Name:          res.Name,
			Location:      res.LocationName,
			URLFriendlyID: res.URLFriendlyID,
			Info:          res.info(),
		})

		if res.Marker != nil {
			add(EntityRef{
				ID:            res.Marker.ID,
				Name:          res.Marker.Name,
				Location:      res.LocationName,
				URLFriendlyID: res.Marker.URLFriendlyID,
				Info:          res.Marker.info(),
			})
		}
	}

	return EntityList{Entities: entities, Raw: raw}, nil
}

// ParseDetail validates a menu body. Missing names are filled with
// "Unknown" so downstream code never has to special-case them.
func ParseDetail(raw []byte) (DetailRecord, error) {
	if !isObject(raw) {
		return DetailRecord{}, &Error{
			Kind: KindParse,
			Op:   opFetchDetail,
			Msg:  "response body is not a JSON object",
		}
	}

	var rec DetailRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return DetailRecord{}, &Error{
			Kind: KindParse,
			Op:   opFetchDetail,
			Msg:  "decode menu",
			Err:  err,
		}
	}

	for i := range rec.MealPeriods {
		period := &rec.MealPeriods[i]
		period.Name = orUnknown(period.Name)

		for j := range period.Groups {
			group := &period.Groups[j]
			group.Name = orUnknown(group.Name)

			for k := range group.Items {
				item := &group.Items[k]
				item.Title = orUnknown(item.Title)
			}
		}
	}
	rec.Raw = raw

	return rec, nil
}

func orUnknown(s string) string {
	if s == "" {
		return unknownName
	}

	return s
}

// isObject reports whether raw holds a JSON object at the top level.
func isObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)

	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
