// Package record defines the row model shared by every gridsync component.
//
// A Row is what the grid renders and what the backend stores:
//
//	Row{Handle: "0190...", ID: 7, Fields: Fields{"id": int64(7), "name": "Bolt"}}
//
// IDENTITY:
//
// Handle is generated on the client and never changes for the lifetime of a
// rendered row. ID is the backend primary key; zero means the row has not
// been saved yet. Components key pending work by Handle so that unsaved rows
// can be tracked before the server assigns them an ID.
//
// VALUES:
//
// Field values are restricted to the JSON data model after Normalize:
// nil, string, int64, float64, bool, []any and map[string]any. Decoders must
// use json.Decoder.UseNumber so integers are never widened to float64.
package record
