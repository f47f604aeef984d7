// Package stages contains the stage implementations compiled into
// reductree, together with their manifests.
//
// The manifests are embedded into the binary and written to the default
// plugin directory by "reductree init". Registering that directory makes the
// stages available by display name.
package stages
