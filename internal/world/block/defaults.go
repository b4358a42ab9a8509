package block

// NewDefaultRegistry создаёт реестр со стандартным набором блоков мира
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range []Properties{
		{ID: AirBlockID, Name: "Air"},
		{ID: StoneBlockID, Name: "Stone", Opaque: true, Solid: true},
		{ID: GrassBlockID, Name: "Grass", Opaque: true, Solid: true},
		{ID: WaterBlockID, Name: "Water", Solid: true},
		{ID: SandBlockID, Name: "Sand", Opaque: true, Solid: true},
		{ID: DirtBlockID, Name: "Dirt", Opaque: true, Solid: true},
		{ID: BedrockBlockID, Name: "Bedrock", Opaque: true, Solid: true},
		{ID: FlowerBlockID, Name: "Flower", Solid: true},
		{ID: WoodBlockID, Name: "Wood", Opaque: true, Solid: true},
		{ID: LeavesBlockID, Name: "Leaves", Solid: true},
		{ID: CactusBlockID, Name: "Cactus", Opaque: true, Solid: true},
	} {
		// Набор фиксирован, дубликатов нет
		_ = r.Register(p)
	}
	return r
}
