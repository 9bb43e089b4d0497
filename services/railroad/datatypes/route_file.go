// Copyright (C) 2025 Glander Club (railroad@glander.club)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// RouteFor identifies the level a route file was recorded against. The
// field names follow the route file interchange format, which uses the
// external script names of sets rather than our internal pack names.
type RouteFor struct {
	Set         string `json:"Set,omitempty"`
	LevelName   string `json:"LevelName,omitempty"`
	LevelNumber int    `json:"LevelNumber,omitempty"`
}

// RouteFile is an uploaded candidate route in the shared interchange
// format. Only the fields the validator consumes are modeled; unknown
// fields are dropped on decode.
type RouteFile struct {
	Moves string `json:"Moves"`
	Rule  string `json:"Rule,omitempty"`

	// InitialSlide is the initial random force floor direction.
	InitialSlide *int `json:"Initial Slide,omitempty"`

	// Blobmod only affects blob movement, unlike a full RNG seed.
	Blobmod *int `json:"Blobmod,omitempty"`

	// For carries the identification fields used to resolve the target
	// level. A missing or unresolvable For block invalidates the upload.
	For *RouteFor `json:"For,omitempty"`

	ExportApp string `json:"ExportApp,omitempty"`
}

// MoveData converts the interchange representation into the persisted one.
func (f *RouteFile) MoveData() MoveData {
	return MoveData{
		Moves:        f.Moves,
		InitialSlide: f.InitialSlide,
		BlobMod:      f.Blobmod,
	}
}
