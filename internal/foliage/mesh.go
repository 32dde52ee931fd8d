package foliage

// Mesh is GPU geometry owned by the host. Sub-meshes map 1:1 onto materials.
type Mesh interface {
	Name() string
	SubMeshCount() int
	IndexCount(subMesh int) uint32
}

// Material is an instancing-enabled material owned by the host.
type Material interface {
	Name() string
}

// StaticMesh describes a mesh by its counts only. Used by headless hosts.
type StaticMesh struct {
	MeshName    string
	SubMeshes   int
	IndexCounts []uint32
}

func (m StaticMesh) Name() string { return m.MeshName }

func (m StaticMesh) SubMeshCount() int {
	if m.SubMeshes <= 0 {
		return 1
	}
	return m.SubMeshes
}

func (m StaticMesh) IndexCount(subMesh int) uint32 {
	if subMesh < 0 || subMesh >= len(m.IndexCounts) {
		return 0
	}
	return m.IndexCounts[subMesh]
}

// StaticMaterial is a named material handle.
type StaticMaterial string

func (m StaticMaterial) Name() string { return string(m) }
