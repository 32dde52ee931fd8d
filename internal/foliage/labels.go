package foliage

// Provenance labels. Labels only drive bulk removal and re-sticking, the
// render path never looks at them.
const (
	LabelPainted        = "Hand Painted"
	LabelTerrain        = "[TERRAIN]"
	LabelTerrainDetails = "[TERRAIN DETAILS]"
	LabelTerrainPainted = "[TERRAIN HAND PAINTED]"
)

// TerrainLabel tags trees extracted from the named terrain.
func TerrainLabel(terrain string) string {
	return LabelTerrain + " " + terrain
}

// TerrainDetailsLabel tags grass extracted from the named terrain's detail layers.
func TerrainDetailsLabel(terrain string) string {
	return LabelTerrainDetails + " " + terrain
}

// TerrainPaintedLabel tags instances painted by hand onto the named terrain.
func TerrainPaintedLabel(terrain string) string {
	return LabelTerrainPainted + " " + terrain
}
