// Package model defines stable boundary types shared by the store, the
// workflow packages and the API layers.
//
// Signed label bytes are defined by package label and are unaffected by any
// projection here. These structs are the types intended for direct JSON
// serialization by consumers.
package model
