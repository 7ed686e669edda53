package share

// Host is the simulation side. Called from Channel.UpdateTelemetry goroutine only.
// Image slices are borrowed for the duration of the call.
type Host interface {
	FrontCameraImage() []byte
	BottomCameraImage() []byte
	Rotation() Vec3
	Depth() float32
}
