// Package tlv implements the OMA-TLV binary encoding used for LWM2M
// object, object-instance and multi-resource payloads.
//
// A TLV stream is a sequence of records. Each record starts with a type
// byte: bits 7-6 select the record kind (object instance, resource
// instance, multiple resource, resource with value), bit 5 selects an
// 8- or 16-bit identifier, bits 4-3 select how the length is carried
// (inline in bits 2-0, or as an 8/16/24-bit field following the
// identifier). Container records (object instance, multiple resource)
// nest further records in their value.
package tlv
