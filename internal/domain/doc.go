// Package domain models NOAA Storm Prediction Center (SPC) convective outlooks
// as seen from a single geographic point.
//
// # Data Source
//
// The SPC publishes one GeoJSON FeatureCollection per forecast day and outlook
// layer under https://www.spc.noaa.gov/products/outlook/. File names follow
//
//	day{N}otlk_{suffix}.lyr.geojson
//
// where N is the forecast day (1–8) and suffix is one of:
//
//	cat   categorical outlook (TSTM, MRGL, SLGT, ENH, MDT, HIGH), days 1–8
//	torn  tornado probability, detailed days only
//	hail  hail probability, detailed days only
//	wind  wind probability, detailed days only
//
// The SPC only issues hazard-specific layers for the near-term days; the
// number of such days is the "detailed window" (2 by default).
//
// # Feature Properties
//
// Each feature carries a Polygon or MultiPolygon in WGS-84 lon/lat order and
// a properties object. Only these members are consumed:
//
//	LABEL2  human label, e.g. "Slight Risk" or "5% Tornado Risk"
//	VALID   start of the validity window, e.g. "202405061200"
//	ISSUE   issuance time
//	EXPIRE  end of the validity window
//	fill    polygon fill color, e.g. "#FFE066"
//	stroke  polygon stroke color
//
// Timestamps are opaque strings and are passed through untouched. A missing
// label or timestamp becomes [UnknownValue]; a missing color becomes
// [DefaultFill] / [DefaultStroke].
//
// Days with no risk area are published either as an empty feature list or as
// features with empty geometry. Both resolve to the day's sentinel default.
//
// # Matching Rules
//
// Containment is inclusive: a point on any polygon edge, hole edges included,
// is inside. Hole interiors are excluded. When several features in one layer
// contain the point, the last one in feed order wins. SPC layers are ordered
// from lowest to highest risk, so the last containing feature is the most
// severe.
//
// # Sentinels
//
//	categorical risk with no match or a failed feed  →  "No Risk"
//	hazard probability with no match or a failed feed →  "No Data"
//
// Hazard probabilities are absent, not sentinel-filled, outside the detailed
// window.
package domain
