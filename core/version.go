package core

// Version is the framework version recorded in every episode.
const Version = "0.4.1"
