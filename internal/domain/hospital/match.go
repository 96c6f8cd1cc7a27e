package hospital

import (
	"sort"

	"github.com/carelink/carelink/pkg/geo"
)

// Match projects every located hospital within radiusKm of origin, nearest
// first. Equal distances are ordered by name so results are deterministic.
// An empty slice is a valid answer.
func Match(hospitals []*Hospital, origin geo.Point, radiusKm float64) []HospitalResponse {
	type candidate struct {
		h    *Hospital
		loc  geo.Point
		dist float64
	}

	var kept []candidate
	for _, h := range hospitals {
		loc, ok := h.Location()
		if !ok {
			continue
		}
		d := geo.Distance(origin, loc)
		if d > radiusKm {
			continue
		}
		kept = append(kept, candidate{h: h, loc: loc, dist: d})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].dist != kept[j].dist {
			return kept[i].dist < kept[j].dist
		}
		return kept[i].h.Name < kept[j].h.Name
	})

	out := make([]HospitalResponse, 0, len(kept))
	for _, c := range kept {
		out = append(out, HospitalResponse{
			HospitalID:    c.h.ID,
			Name:          c.h.Name,
			Distance:      geo.Round(c.dist, 2),
			AvailableBeds: c.h.AvailableBeds,
			ICUBeds:       c.h.ICUBeds,
			Ambulances:    c.h.Ambulances,
			ResponseTime:  geo.ResponseTime(c.dist),
			CanRespond:    c.h.AvailableBeds > 0,
			Latitude:      c.loc.Lat,
			Longitude:     c.loc.Lon,
			Phone:         c.h.Phone,
			Address:       c.h.Address,
		})
	}
	return out
}
