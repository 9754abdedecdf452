package load

import "github.com/ruhrdata/regiolake/pkg/transform"

type factKey struct {
	regionCode  string
	year        int
	quarter     int
	gender      string
	nationality string
	ageGroup    string
}

func keyOf(r transform.Row) factKey {
	return factKey{
		regionCode:  r.RegionCode,
		year:        r.Year,
		quarter:     r.Quarter,
		gender:      r.Gender,
		nationality: r.Nationality,
		ageGroup:    r.AgeGroup,
	}
}

// dedupe keeps one row per fact key: the one with the best quality flag, and
// the first seen on ties. Input order is otherwise preserved.
func dedupe(rows []transform.Row) ([]transform.Row, int) {
	index := make(map[factKey]int, len(rows))
	out := make([]transform.Row, 0, len(rows))
	for _, r := range rows {
		k := keyOf(r)
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, r)
			continue
		}
		if transform.QualityRank(r.QualityFlag) > transform.QualityRank(out[i].QualityFlag) {
			out[i] = r
		}
	}
	return out, len(rows) - len(out)
}
