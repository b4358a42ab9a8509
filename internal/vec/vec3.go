package vec

// Vec3 представляет трехмерный вектор с целочисленными координатами
type Vec3 struct {
	X int
	Y int
	Z int
}

// Vec3Float представляет трехмерный вектор с плавающими координатами
type Vec3Float struct {
	X float64
	Y float64
	Z float64
}

// DistanceSq возвращает квадрат расстояния до другого вектора
func (v Vec3) DistanceSq(other Vec3) int {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return dx*dx + dy*dy + dz*dz
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Add складывает два вектора
func (v Vec3Float) Add(other Vec3Float) Vec3Float {
	return Vec3Float{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Scale умножает вектор на скаляр
func (v Vec3Float) Scale(k float64) Vec3Float {
	return Vec3Float{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// LengthSq возвращает квадрат длины вектора (без извлечения корня)
func (v Vec3Float) LengthSq() float64 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

// FloorDiv делит с округлением вниз (корректно для отрицательных координат)
func FloorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Mod возвращает неотрицательный остаток от деления
func Mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
