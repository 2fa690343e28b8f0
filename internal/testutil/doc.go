// Package testutil provides fluent builders for the data model used across
// package tests.
package testutil
