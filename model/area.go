package model

// Area is one of the fixed zone labels that partition search entities.
type Area string

const (
	AreaAlpha   Area = "Alpha"
	AreaBravo   Area = "Bravo"
	AreaCharlie Area = "Charlie"
	AreaDelta   Area = "Delta"
	AreaEcho    Area = "Echo"
	AreaFoxtrot Area = "Foxtrot"
	AreaGolf    Area = "Golf"
	AreaHotel   Area = "Hotel"
	AreaOscar   Area = "Oscar"
)

// Areas lists every valid area in display order.
var Areas = []Area{
	AreaAlpha,
	AreaBravo,
	AreaCharlie,
	AreaDelta,
	AreaEcho,
	AreaFoxtrot,
	AreaGolf,
	AreaHotel,
	AreaOscar,
}

// Valid reports whether a is one of the fixed area labels.
func (a Area) Valid() bool {
	for _, known := range Areas {
		if a == known {
			return true
		}
	}
	return false
}
