// Package capexpander expands FHIR CapabilityStatements.
//
// Given a directory of FHIR resources, it resolves a capability
// statement's imports and instantiates links recursively, merges the
// imported statements into a single materialized document, computes the
// transitive closure of every referenced artifact (profiles,
// terminology, search parameters, parent profiles, examples), and
// writes the expanded statement plus all referenced artifacts to an
// output directory.
//
// Basic usage:
//
//	exp := capexpander.New("./fhir", "./out",
//		capexpander.WithRoots("http://example.org/cs/base"),
//		capexpander.WithFilter(expectation.Should),
//	)
//	report, err := exp.Run()
package capexpander
