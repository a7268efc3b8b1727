// Package testutil contains helper builders and scripted agents used across
// tests to reduce boilerplate when constructing messages and small agent
// networks. The helpers depend on core only so that every package can use
// them from its own tests. They are not intended for production usage.
package testutil
