// Package model implements the LWM2M object tree: objects, object
// instances, resources and resource instances, together with the endpoint
// parameters advertised at registration and builders for the standard
// Security (0), Server (1) and Device (3) objects.
//
// The tree is owned by the NSDL engine. Applications read values at any
// time; mutation goes through setters so that value changes can be observed
// by the engine for notification evaluation.
package model
