// Package geo provides the prefecture and region reference data the
// search core needs: prefecture to region mapping, prefecture reference
// coordinates and great-circle distance. It has no I/O.
package geo

import (
	"math"
	"sort"

	"github.com/kikidoko/kikidoko-go/internal/equipment"
)

// Prefectures lists the 47 prefectures in the conventional JIS order.
var Prefectures = []string{
	"北海道", "青森県", "岩手県", "宮城県", "秋田県", "山形県", "福島県",
	"茨城県", "栃木県", "群馬県", "埼玉県", "千葉県", "東京都", "神奈川県",
	"新潟県", "富山県", "石川県", "福井県", "山梨県", "長野県", "岐阜県",
	"静岡県", "愛知県", "三重県", "滋賀県", "京都府", "大阪府", "兵庫県",
	"奈良県", "和歌山県", "鳥取県", "島根県", "岡山県", "広島県", "山口県",
	"徳島県", "香川県", "愛媛県", "高知県", "福岡県", "佐賀県", "長崎県",
	"熊本県", "大分県", "宮崎県", "鹿児島県", "沖縄県",
}

// regionOf maps every prefecture to its region.
var regionOf = map[string]string{
	"北海道": "北海道",
	"青森県": "東北", "岩手県": "東北", "宮城県": "東北",
	"秋田県": "東北", "山形県": "東北", "福島県": "東北",
	"茨城県": "関東", "栃木県": "関東", "群馬県": "関東", "埼玉県": "関東",
	"千葉県": "関東", "東京都": "関東", "神奈川県": "関東",
	"新潟県": "中部", "富山県": "中部", "石川県": "中部", "福井県": "中部",
	"山梨県": "中部", "長野県": "中部", "岐阜県": "中部", "静岡県": "中部",
	"愛知県": "中部", "三重県": "中部",
	"滋賀県": "関西", "京都府": "関西", "大阪府": "関西",
	"兵庫県": "関西", "奈良県": "関西", "和歌山県": "関西",
	"鳥取県": "中国", "島根県": "中国", "岡山県": "中国",
	"広島県": "中国", "山口県": "中国",
	"徳島県": "四国", "香川県": "四国", "愛媛県": "四国", "高知県": "四国",
	"福岡県": "九州", "佐賀県": "九州", "長崎県": "九州",
	"熊本県": "九州", "大分県": "九州", "宮崎県": "九州", "鹿児島県": "九州",
	"沖縄県": "沖縄",
}

// coordinateOf maps every prefecture to its capital's coordinate, used as
// the reference point when a record has no geocode of its own.
var coordinateOf = map[string]equipment.Coordinate{
	"北海道":  {Lat: 43.0642, Lng: 141.3469},
	"青森県":  {Lat: 40.8244, Lng: 140.7400},
	"岩手県":  {Lat: 39.7036, Lng: 141.1527},
	"宮城県":  {Lat: 38.2688, Lng: 140.8721},
	"秋田県":  {Lat: 39.7186, Lng: 140.1024},
	"山形県":  {Lat: 38.2404, Lng: 140.3633},
	"福島県":  {Lat: 37.7500, Lng: 140.4678},
	"茨城県":  {Lat: 36.3418, Lng: 140.4468},
	"栃木県":  {Lat: 36.5658, Lng: 139.8836},
	"群馬県":  {Lat: 36.3911, Lng: 139.0608},
	"埼玉県":  {Lat: 35.8569, Lng: 139.6489},
	"千葉県":  {Lat: 35.6047, Lng: 140.1233},
	"東京都":  {Lat: 35.6895, Lng: 139.6917},
	"神奈川県": {Lat: 35.4478, Lng: 139.6425},
	"新潟県":  {Lat: 37.9022, Lng: 139.0236},
	"富山県":  {Lat: 36.6953, Lng: 137.2113},
	"石川県":  {Lat: 36.5947, Lng: 136.6256},
	"福井県":  {Lat: 36.0652, Lng: 136.2216},
	"山梨県":  {Lat: 35.6642, Lng: 138.5684},
	"長野県":  {Lat: 36.6513, Lng: 138.1810},
	"岐阜県":  {Lat: 35.3912, Lng: 136.7223},
	"静岡県":  {Lat: 34.9769, Lng: 138.3831},
	"愛知県":  {Lat: 35.1802, Lng: 136.9066},
	"三重県":  {Lat: 34.7303, Lng: 136.5086},
	"滋賀県":  {Lat: 35.0045, Lng: 135.8686},
	"京都府":  {Lat: 35.0211, Lng: 135.7556},
	"大阪府":  {Lat: 34.6863, Lng: 135.5200},
	"兵庫県":  {Lat: 34.6913, Lng: 135.1830},
	"奈良県":  {Lat: 34.6851, Lng: 135.8328},
	"和歌山県": {Lat: 34.2260, Lng: 135.1675},
	"鳥取県":  {Lat: 35.5036, Lng: 134.2383},
	"島根県":  {Lat: 35.4723, Lng: 133.0505},
	"岡山県":  {Lat: 34.6618, Lng: 133.9344},
	"広島県":  {Lat: 34.3966, Lng: 132.4596},
	"山口県":  {Lat: 34.1859, Lng: 131.4714},
	"徳島県":  {Lat: 34.0658, Lng: 134.5593},
	"香川県":  {Lat: 34.3401, Lng: 134.0434},
	"愛媛県":  {Lat: 33.8417, Lng: 132.7657},
	"高知県":  {Lat: 33.5597, Lng: 133.5311},
	"福岡県":  {Lat: 33.6064, Lng: 130.4181},
	"佐賀県":  {Lat: 33.2494, Lng: 130.2988},
	"長崎県":  {Lat: 32.7448, Lng: 129.8737},
	"熊本県":  {Lat: 32.7898, Lng: 130.7417},
	"大分県":  {Lat: 33.2382, Lng: 131.6126},
	"宮崎県":  {Lat: 31.9111, Lng: 131.4239},
	"鹿児島県": {Lat: 31.5602, Lng: 130.5581},
	"沖縄県":  {Lat: 26.2124, Lng: 127.6809},
}

// defaultRegionOrder ranks regions by overall facility density when no
// per-prefecture counts are available.
var defaultRegionOrder = []string{
	"関東", "関西", "中部", "九州", "東北", "中国", "北海道", "四国", "沖縄",
}

// RegionOf returns the region for a prefecture, or "" if unknown.
func RegionOf(prefecture string) string {
	return regionOf[prefecture]
}

// CoordinateOf returns the reference coordinate for a prefecture.
func CoordinateOf(prefecture string) (equipment.Coordinate, bool) {
	c, ok := coordinateOf[prefecture]
	return c, ok
}

// AllRegions returns every region in default density order.
func AllRegions() []string {
	out := make([]string, len(defaultRegionOrder))
	copy(out, defaultRegionOrder)
	return out
}

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle (haversine) distance between two
// coordinates in kilometers.
func DistanceKm(a, b equipment.Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// RecordDistanceKm returns the distance from origin to a record, using
// the record's own geocode when present and its prefecture's reference
// coordinate otherwise. The second return is false when neither exists.
func RecordDistanceKm(origin equipment.Coordinate, r *equipment.Record) (float64, bool) {
	if c, ok := r.Coordinate(); ok {
		return DistanceKm(origin, c), true
	}
	if c, ok := CoordinateOf(r.Prefecture); ok {
		return DistanceKm(origin, c), true
	}
	return 0, false
}

// regionCentroid averages the reference coordinates of a region's
// prefectures.
func regionCentroid(region string) (equipment.Coordinate, bool) {
	var sumLat, sumLng float64
	n := 0
	for _, pref := range Prefectures {
		if regionOf[pref] != region {
			continue
		}
		c := coordinateOf[pref]
		sumLat += c.Lat
		sumLng += c.Lng
		n++
	}
	if n == 0 {
		return equipment.Coordinate{}, false
	}
	return equipment.Coordinate{Lat: sumLat / float64(n), Lng: sumLng / float64(n)}, true
}

// NearestRegions returns up to max regions ordered by distance from the
// origin to each region's centroid.
func NearestRegions(origin equipment.Coordinate, max int) []string {
	type scored struct {
		region string
		dist   float64
	}
	var ranked []scored
	for _, region := range defaultRegionOrder {
		centroid, ok := regionCentroid(region)
		if !ok {
			continue
		}
		ranked = append(ranked, scored{region: region, dist: DistanceKm(origin, centroid)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })

	out := make([]string, 0, max)
	for _, s := range ranked {
		if len(out) >= max {
			break
		}
		out = append(out, s.region)
	}
	return out
}

// RegionsByDensity returns up to max regions ranked by the summed
// facility counts of their prefectures. With no counts at all it falls
// back to the default order.
func RegionsByDensity(countsByPrefecture map[string]int, max int) []string {
	totals := make(map[string]int)
	any := false
	for pref, count := range countsByPrefecture {
		if region := regionOf[pref]; region != "" && count > 0 {
			totals[region] += count
			any = true
		}
	}
	if !any {
		regions := AllRegions()
		if len(regions) > max {
			regions = regions[:max]
		}
		return regions
	}

	regions := AllRegions()
	sort.SliceStable(regions, func(i, j int) bool {
		return totals[regions[i]] > totals[regions[j]]
	})
	if len(regions) > max {
		regions = regions[:max]
	}
	return regions
}
