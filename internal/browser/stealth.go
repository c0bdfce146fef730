package browser

import _ "embed"

// StealthJS hides automation flags and pins the reported WebGL vendor/renderer.
// It must be registered before the first navigation.
//
//go:embed stealth.js
var StealthJS string
