package server

// LevelTemplate describes a standard level: its display name and the
// spawn coordinate for each flag. Flag order is part of the wire
// contract, clients address flags by index.
type LevelTemplate struct {
	Name       string
	FlagSpawns [][3]int32
}

// standardLevels is the closed set of levels that get public rooms.
// Private rooms reference one of these templates too; the custom
// selector only changes how the room is found, not how it is built.
var standardLevels = map[int32]LevelTemplate{
	1: {
		Name:       "Meadow",
		FlagSpawns: [][3]int32{{0, 1200, -1600}},
	},
	2: {
		Name:       "Harbor",
		FlagSpawns: [][3]int32{{-2400, 300, 800}},
	},
	3: {
		Name:       "Summit",
		FlagSpawns: [][3]int32{{0, 4500, 0}, {1800, 2900, -2200}},
	},
	4: {
		Name:       "Catacombs",
		FlagSpawns: [][3]int32{{600, -200, 3100}},
	},
	5: {
		Name:       "Skyfield",
		FlagSpawns: [][3]int32{{0, 6000, 0}, {-3000, 5200, 3000}, {3000, 5200, -3000}},
	},
}

// StandardLevelIDs returns the selectors of all standard levels.
func StandardLevelIDs() []int32 {
	ids := make([]int32, 0, len(standardLevels))
	for id := range standardLevels {
		ids = append(ids, id)
	}
	return ids
}
