// Package k8s provides the building blocks used to drive a Kubernetes
// cluster one small, described step at a time.
//
// A Task performs one action (create, merge, patch, delete, get) against
// one object & optionally asserts the state observed afterwards. Tasks are
// composed into a Job which runs them in order & stops at the first failure,
// the same way a shell script running with 'set -e' would. Higher level
// packages build the workshop application & its failure scenarios purely
// out of these pieces.
//
// These are the references which were studied while implementing this package
//
// - https://github.com/kubernetes/community/blob/master/contributors/devel/sig-testing/e2e-tests.md
// - https://cluster-api.sigs.k8s.io/developer/e2e.html
// - https://github.com/banzaicloud/k8s-objectmatcher/tree/master/tests
// - https://github.com/chaos-mesh/chaos-mesh
package k8s
