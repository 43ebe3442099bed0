// Package importer loads member profile files into the directory database.
//
// Profile files are YAML (.yaml, .yml) or JSON (.json). A file holds a
// single profile, a list of profiles, or a document with a top level
// "members" list:
//
//	members:
//	  - username: ada
//	    display_name: Ada Lovelace
//	    role: Researcher
//	    career_stage: senior
//	    joined_at: 2018-03-01
//
// # Pipeline
//
//  1. Discovery: walk the path for profile files, skipping dot directories
//  2. Parse: decode files concurrently on a bounded errgroup
//  3. Validate: normalize each member and drop invalid ones
//  4. Store: upsert in batches, one transaction per batch
//
// Members are keyed by username, so importing the same files twice updates
// rather than duplicates. Bad files and invalid members are counted in
// Statistics and never abort the import.
//
// Only one import runs at a time per Importer; a second concurrent call
// returns ErrImportInProgress. Every import is recorded as a
// storage.ImportRun.
package importer
