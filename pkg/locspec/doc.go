// Package locspec implements code to parse a string into a breakpoint
// location specification.
//
// Location spec examples:
//
// locStr ::= *<address> | <line> | <filename>:<line> | <function>
//   - <address> is hexadecimal, the 0x prefix is optional
//   - <line> is a line in the file that defines the program entry function
//   - <filename> can be the full path of a file or just a suffix
//   - <function> is a fully qualified function name, for Go programs the
//     main package may be omitted
package locspec
