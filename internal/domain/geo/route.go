package geo

// Stop is one job site in a contractor's planning session. Pickup is optional;
// when known, the contractor drives to the pickup first and then to the site.
type Stop struct {
	ID     string   `json:"id"`
	Site   Location `json:"site"`
	Pickup Location `json:"pickup"`
}

// Leg is one hop of a sequenced route.
type Leg struct {
	Stop     Stop       `json:"stop"`
	Distance Distance   `json:"distance"`
	Travel   TravelTime `json:"travel"`
}

// Route is an ordered sequence of stops. Routes are computed per planning
// session and go stale as soon as the contractor's schedule changes.
type Route struct {
	Legs          []Leg      `json:"legs"`
	TotalDistance Distance   `json:"total_distance"`
	TotalTravel   TravelTime `json:"total_travel"`
}

// Order returns the stop ids in route order.
func (r Route) Order() []string {
	ids := make([]string, len(r.Legs))
	for i, l := range r.Legs {
		ids[i] = l.Stop.ID
	}
	return ids
}

// legCost is the distance from cur to the stop's site, via the pickup when known.
func legCost(cur Location, s Stop) Distance {
	if s.Pickup.Known() {
		return Between(cur, s.Pickup).Add(Between(s.Pickup, s.Site))
	}
	return Between(cur, s.Site)
}

// SequenceRoute orders stops with a greedy nearest-neighbor walk from start:
// repeatedly pick the unvisited stop with the cheapest leg from the current
// position. This is O(n²) and deliberately not an optimal tour. Stops whose
// leg distance cannot be computed are appended last in input order.
func SequenceRoute(start Location, stops []Stop, mode Mode) (Route, error) {
	if _, err := mode.speeds(); err != nil {
		return Route{}, err
	}

	visited := make([]bool, len(stops))
	legs := make([]Leg, 0, len(stops))
	cur := start

	for range stops {
		best := -1
		var bestCost Distance
		for i, s := range stops {
			if visited[i] {
				continue
			}
			c := legCost(cur, s)
			if !c.Known {
				continue
			}
			// Strict comparison keeps the earliest stop on ties.
			if best == -1 || c.Meters < bestCost.Meters {
				best, bestCost = i, c
			}
		}
		if best == -1 {
			break
		}
		visited[best] = true
		travel, _ := EstimateTravelTime(bestCost, mode)
		legs = append(legs, Leg{Stop: stops[best], Distance: bestCost, Travel: travel})
		cur = stops[best].Site
	}

	for i, s := range stops {
		if !visited[i] {
			legs = append(legs, Leg{Stop: s, Distance: UnknownDistance})
		}
	}

	return summarize(legs), nil
}

func summarize(legs []Leg) Route {
	r := Route{Legs: legs}
	r.TotalDistance = Distance{Known: true}
	r.TotalTravel = TravelTime{Known: true}
	for _, l := range legs {
		r.TotalDistance = r.TotalDistance.Add(l.Distance)
		r.TotalTravel = r.TotalTravel.Add(l.Travel)
	}
	return r
}

// Aggregate sums distance and travel time along points in the given order.
// Fewer than two points yields zero distance and zero time.
func Aggregate(points []Location, mode Mode) (Distance, TravelTime, error) {
	if _, err := mode.speeds(); err != nil {
		return Distance{}, TravelTime{}, err
	}
	total := Distance{Known: true}
	travel := TravelTime{Known: true}
	if len(points) < 2 {
		return total, travel, nil
	}
	for i := 1; i < len(points); i++ {
		d := Between(points[i-1], points[i])
		t, _ := EstimateTravelTime(d, mode)
		total = total.Add(d)
		travel = travel.Add(t)
	}
	return total, travel, nil
}
