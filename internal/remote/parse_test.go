package remote

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestParseDetail_DefaultsNames verifies that empty names become "Unknown"
// at every level of the menu tree.
func TestParseDetail_DefaultsNames(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"mealPeriods": [{"groups": [{"items": [{}]}]}]}`)

	rec, err := ParseDetail(raw)
	require.NoError(t, err)

	period := rec.MealPeriods[0]
	require.Equal(t, "Unknown", period.Name)
	require.Equal(t, "Unknown", period.Groups[0].Name)
	require.Equal(t, "Unknown", period.Groups[0].Items[0].Title)
	require.Nil(t, period.Groups[0].Items[0].Price())
}

// TestParseDetail_RejectsNonObject verifies the top-level shape check.
func TestParseDetail_RejectsNonObject(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{``, `null`, `"menu"`, `[]`, `{"mealPeriods":`} {
		_, err := ParseDetail([]byte(raw))
		require.True(t, IsKind(err, KindParse), "input %q", raw)
	}
}

// TestParseDetail_BadAmount verifies that a price that is neither a number
// nor a string fails the whole record rather than being silently dropped.
func TestParseDetail_BadAmount(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"mealPeriods": [{"groups": [{"items": [
		{"title": "x", "prices": [{"withoutTax": {"amount": 1}}]}
	]}]}]}`)

	_, err := ParseDetail(raw)
	require.True(t, IsKind(err, KindParse))
}

// TestAmount_Forms verifies the accepted textual forms of an amount.
func TestAmount_Forms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Amount
	}{
		{`4.99`, "4.99"},
		{`12`, "12"},
		{`"4.99"`, "4.99"},
		{`"$4.99"`, "4.99"},
		{`" $4.99 "`, "4.99"},
		{`"N/A"`, ""},
		{`""`, ""},
		{`null`, ""},
	}

	for _, tc := range tests {
		var got Amount
		require.NoError(t, json.Unmarshal([]byte(tc.in), &got), tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

// TestParseEntities_Metadata verifies that descriptive metadata is carried
// for results and markers.
func TestParseEntities_Metadata(t *testing.T) {
	t.Parallel()

	const body = `{"results": [{
		"id": "354099;entityType=restaurant",
		"name": "Cafe Orleans",
		"url": "/dining/disneyland/cafe-orleans/",
		"urlFriendlyId": "cafe-orleans",
		"locationName": "New Orleans Square",
		"entityType": "restaurant",
		"maximumPartySize": 10,
		"quickServiceAvailable": true,
		"facilityId": "354099",
		"facets": {
			"priceRange": ["$$ ($15 to $34.99 per adult)"],
			"cuisine": ["American", "Cajun/Creole"],
			"tableService": ["table-service"]
		},
		"restaurants": [{"coordinates": {
			"Side": {"gps": {"latitude": "33.8115", "longitude": -117.9209}},
			"Main": {"gps": {"latitude": 33.8117, "longitude": -117.9211}}
		}}],
		"media": {"finderStandardThumb": {
			"url": "https://cdn.example/cafe-orleans.jpg",
			"alt": "Monte Cristo sandwich"
		}},
		"generalPurposeStrings": {
			"diningAdditionalInfo": "Mobile order available"
		},
		"productUrls": ["/dining/cafe-orleans/menus/"],
		"marker": {
			"id": "19630218;entityType=restaurant",
			"name": "Mint Julep Bar",
			"url": "/dining/disneyland/mint-julep-bar/",
			"urlFriendlyId": "mint-julep-bar",
			"lat": 33.8113, "lng": -117.9207
		}
	}]}`

	list, err := ParseEntities([]byte(body))
	require.NoError(t, err)
	require.Len(t, list.Entities, 2)

	require.Equal(t, EntityInfo{
		URL:              "/dining/disneyland/cafe-orleans/",
		EntityType:       "restaurant",
		FacilityID:       "354099",
		MaximumPartySize: "10",
		QuickService:     true,
		PriceRange:       []string{"$$ ($15 to $34.99 per adult)"},
		Cuisines:         []string{"American", "Cajun/Creole"},
		DiningTypes:      []string{"table-service"},
		Coordinates: []Coordinate{
			{Entrance: "Main", Latitude: "33.8117", Longitude: "-117.9211"},
			{Entrance: "Side", Latitude: "33.8115", Longitude: "-117.9209"},
		},
		AdditionalInfo: "Mobile order available",
		ProductURLs:    []string{"/dining/cafe-orleans/menus/"},
		Thumbnail: &Thumbnail{
			URL: "https://cdn.example/cafe-orleans.jpg",
			Alt: "Monte Cristo sandwich",
		},
	}, list.Entities[0].Info)

	marker := list.Entities[1]
	require.Equal(t, "New Orleans Square", marker.Location)
	require.Equal(t, EntityInfo{
		URL:        "/dining/disneyland/mint-julep-bar/",
		EntityType: "restaurant",
		Coordinates: []Coordinate{
			{Entrance: "Main", Latitude: "33.8113", Longitude: "-117.9207"},
		},
	}, marker.Info)
}

// TestParseEntities_MalformedMetadata verifies that optional fields of an
// unexpected shape are dropped without failing the parse.
func TestParseEntities_MalformedMetadata(t *testing.T) {
	t.Parallel()

	const body = `{"results": [{
		"id": "1", "name": "Churro Cart", "urlFriendlyId": "churro-cart",
		"maximumPartySize": {"min": 1},
		"quickServiceAvailable": "yes",
		"facets": ["not", "an", "object"],
		"restaurants": {"coordinates": []},
		"media": {"finderStandardThumb": "thumb.jpg"},
		"productUrls": [{"url": "/menus/churro-cart/"}, 7, null, ""],
		"marker": {"id": "2", "name": "Churro Pin", "lat": 33.81}
	}]}`

	list, err := ParseEntities([]byte(body))
	require.NoError(t, err)
	require.Len(t, list.Entities, 2)

	info := list.Entities[0].Info
	require.Empty(t, info.MaximumPartySize)
	require.False(t, info.QuickService)
	require.Nil(t, info.Cuisines)
	require.Nil(t, info.Coordinates)
	require.Nil(t, info.Thumbnail)
	require.Equal(t, []string{"/menus/churro-cart/", "7"}, info.ProductURLs)

	// A marker needs both halves of its position.
	require.Nil(t, list.Entities[1].Info.Coordinates)
	require.True(t, list.Entities[0].HasDetail())
}

// TestParseEntities_Properties checks, over generated discovery payloads,
// that ids are unique, never empty, and that every non-empty id in the
// input appears in the output.
func TestParseEntities_Properties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		idGen := rapid.SampledFrom([]string{"", "1", "2", "3", "4", "5"})

		n := rapid.IntRange(0, 12).Draw(t, "results")
		payload := discoveryPayload{}
		want := make(map[string]struct{})
		for i := 0; i < n; i++ {
			res := discoveryResult{
				ID:   idGen.Draw(t, "id"),
				Name: rapid.StringMatching(`[a-z]{0,4}`).Draw(t, "name"),
			}
			if res.ID != "" {
				want[res.ID] = struct{}{}
			}
			if rapid.Bool().Draw(t, "marker") {
				res.Marker = &discoveryMarker{ID: idGen.Draw(t, "markerID")}
				if res.Marker.ID != "" {
					want[res.Marker.ID] = struct{}{}
				}
			}
			payload.Results = append(payload.Results, res)
		}

		raw, err := json.Marshal(payload)
		require.NoError(t, err)

		list, err := ParseEntities(raw)
		require.NoError(t, err)

		got := make(map[string]struct{})
		for _, e := range list.Entities {
			require.NotEmpty(t, e.ID)
			require.NotEmpty(t, e.Name)
			_, dup := got[e.ID]
			require.False(t, dup, "duplicate id %s", e.ID)
			got[e.ID] = struct{}{}
		}
		require.Equal(t, want, got)
	})
}
