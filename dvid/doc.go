/*
	Package dvid provides types, constants and functions that have no other dependencies
	and can be used by all packages within mipmapper: logging, element data types,
	configuration maps, and serialization of stored values.
*/
package dvid
