// Package core holds the domain types shared by every pipeline stage and the
// helpers that interpret raw cell text.
//
// # Records
//
// A file moves through three shapes:
//
//   - [RawRecord]: header-normalized cell strings from the extractor
//   - [Transaction]: the typed, validated row the loader persists
//   - [ExecutionLog] and [FileRegistryEntry]: the audit trail of one load
//
// Stage results ([ExtractionResult], [TransformationResult], [LoadResult])
// carry counts and warnings alongside the data; [Summary] folds the
// per-file [FileReport] values of a run.
//
// # Cell Parsing
//
// [ParseAmount] accepts Brazilian and international number formats,
// currency symbols, and accounting negatives. [ParseDate] accepts ISO,
// day-first, and spreadsheet serial dates. [CanonicalColumn] maps
// Portuguese and English headers, with or without accents, to the
// canonical column names.
//
// # Error Handling
//
// Technical errors are mapped to operator messages using [MapError]. Each
// category has a code that appears in run summaries and the ops API:
//
//   - FILE001-FILE006: input file problems
//   - SCHEMA001: missing required columns
//   - DB001-DB009: store problems
//   - REQ001: malformed API parameters
//   - RUN001-RUN002: run control
package core
