package k6s

// Version is the released version of the engine.
const Version = "0.3.0"
