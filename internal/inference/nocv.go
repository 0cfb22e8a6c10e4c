//go:build !withcv

package inference

import "errors"

// NativeAvailable reports whether this binary was built with OpenCV.
const NativeAvailable = false

// DefaultCascadePath is the frontal face model shipped with OpenCV.
const DefaultCascadePath = "haarcascade_frontalface_default.xml"

var errNoNative = errors.New("built without OpenCV support (rebuild with -tags withcv)")

func newNativeMotion(float64) MotionDetector {
	return nil
}

func newNativeFace(string) (FaceDetector, error) {
	return NewUnavailableFace(errNoNative.Error()), errNoNative
}
