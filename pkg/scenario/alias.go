package scenario

import "github.com/simplekube/breakfix/pkg/k8s"

type RunOption = k8s.RunOption
type Runner = k8s.Runner

type Job = k8s.Job
type Task = k8s.Task
type Tasks = k8s.Tasks
type Custom = k8s.CustomTask
type ListingTask = k8s.ListingTask
type DeletingTask = k8s.DeletingTask
type NodeTaint = k8s.NodeTaintTask
type AssertEquals = k8s.AssertIsEqualsTask
type PodCount = k8s.AssertPodListCountTask

var (
	Get    = k8s.ActionTypeGet
	Create = k8s.ActionTypeCreate
	Patch  = k8s.ActionTypePatch
	Delete = k8s.ActionTypeDelete
)
