package palaver

// Version is the library version. Overridable at build time with
// -ldflags "-X github.com/palaverhq/palaver.Version=v1.2.3".
var Version = "0.1.0"
