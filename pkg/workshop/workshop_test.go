package workshop

import (
	"context"
	"testing"

	"github.com/simplekube/breakfix/pkg/k8s"
	"github.com/simplekube/breakfix/pkg/k8sutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	schedulingv1 "k8s.io/api/scheduling/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
)

func TestPlanTiers(t *testing.T) {
	var tests = []struct {
		name    string
		targets []Tier
		want    []Tier
		isErr   bool
	}{
		{
			name: "every tier in dependency order",
			want: []Tier{TierStorage, TierDatabase, TierBackend, TierFrontend},
		},
		{
			name:    "backend pulls in what it depends on",
			targets: []Tier{TierBackend},
			want:    []Tier{TierStorage, TierDatabase, TierBackend},
		},
		{
			name:    "storage alone",
			targets: []Tier{TierStorage},
			want:    []Tier{TierStorage},
		},
		{
			name:    "duplicates are planned once",
			targets: []Tier{TierDatabase, TierStorage, TierDatabase},
			want:    []Tier{TierStorage, TierDatabase},
		},
		{
			name:    "unknown tier",
			targets: []Tier{"cache"},
			isErr:   true,
		},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			got, err := planTiers(test.targets)
			if test.isErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, got)
		})
	}
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("frontend")
	require.NoError(t, err)
	assert.Equal(t, TierFrontend, tier)

	_, err = ParseTier("cache")
	assert.Error(t, err)
}

func TestManifests(t *testing.T) {
	objs, err := Manifests(testNamespace)
	require.NoError(t, err)

	var names []string
	for _, obj := range objs {
		names = append(names, obj.GetKind()+"/"+obj.GetName())
		assert.NotEmpty(t, obj.GetLabels()[TierLabel], obj.GetName())
		if k8sutil.IsNamespaced(obj) {
			assert.Equal(t, testNamespace, obj.GetNamespace(), obj.GetName())
		} else {
			assert.Empty(t, obj.GetNamespace(), obj.GetName())
		}
	}
	for _, want := range []string{
		"PriorityClass/breakfix-standard",
		"PersistentVolumeClaim/postgres-data",
		"Secret/postgres-credentials",
		"Service/postgres",
		"StatefulSet/postgres",
		"ConfigMap/backend-config",
		"ServiceAccount/backend",
		"Role/pod-reader",
		"RoleBinding/backend-pod-reader",
		"Deployment/backend",
		"Service/backend",
		"Deployment/frontend",
		"Service/frontend",
		"NetworkPolicy/allow-frontend-to-backend",
	} {
		assert.Contains(t, names, want)
	}
	// the priority class is needed before any workload
	assert.Equal(t, "PriorityClass/breakfix-standard", names[0])
}

func TestHealthy(t *testing.T) {
	backend := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "backend"}}
	require.NoError(t, Healthy(testNamespace, backend))
	assert.Equal(t, testNamespace, backend.Namespace)
	assert.Equal(t, int32(2), *backend.Spec.Replicas)
	assert.Equal(t, "/healthz", backend.Spec.Template.Spec.Containers[0].ReadinessProbe.HTTPGet.Path)

	err := Healthy(testNamespace, &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "missing"}})
	assert.Error(t, err)
}

// a rolling update would keep the old pods serving next to a broken
// surge pod
func TestDeploymentsRecreatePods(t *testing.T) {
	for _, name := range []string{"backend", "frontend"} {
		t.Run(name, func(t *testing.T) {
			d := &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: name}}
			require.NoError(t, Healthy(testNamespace, d))
			assert.Equal(t, appsv1.RecreateDeploymentStrategyType, d.Spec.Strategy.Type)
			assert.Nil(t, d.Spec.Strategy.RollingUpdate)
		})
	}
}

func TestDeploy(t *testing.T) {
	ctx := context.Background()
	w := newTestWorkshop()
	opts := newTestRunOptions(t)

	deployed, err := w.IsDeployed(ctx, opts)
	require.NoError(t, err)
	assert.False(t, deployed)

	require.NoError(t, w.Deploy(ctx, nil, opts))
	require.NoError(t, w.Deploy(ctx, nil, opts), "deploy is idempotent")

	deployed, err = w.IsDeployed(ctx, opts)
	require.NoError(t, err)
	assert.True(t, deployed)

	objs, err := Manifests(testNamespace)
	require.NoError(t, err)
	for _, obj := range objs {
		assert.NoError(t, (&k8s.AssertIsEqualsTask{Resource: obj}).Run(ctx, opts), k8sutil.DescribeObj(obj))
	}
}

func TestDeploySelectedTier(t *testing.T) {
	ctx := context.Background()
	w := newTestWorkshop()
	opts := newTestRunOptions(t)

	require.NoError(t, w.Deploy(ctx, []Tier{TierDatabase}, opts))

	assert.NoError(t, k8s.Tasks{
		{
			It:       "should find the database",
			Action:   k8s.ActionTypeGet,
			Resource: &appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Name: "postgres", Namespace: testNamespace}},
			Assert:   k8s.AssertTypeIsFound,
		},
		{
			It:       "should not find the backend",
			Action:   k8s.ActionTypeGet,
			Resource: &appsv1.Deployment{ObjectMeta: metav1.ObjectMeta{Name: "backend", Namespace: testNamespace}},
			Assert:   k8s.AssertTypeIsNotFound,
		},
	}.Run(ctx, opts))
}

func readyDeployment(name string, replicas, ready int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: testNamespace},
		Spec:       appsv1.DeploymentSpec{Replicas: ptr.To(replicas)},
		Status: appsv1.DeploymentStatus{
			ReadyReplicas:     ready,
			UpdatedReplicas:   ready,
			AvailableReplicas: ready,
		},
	}
}

func TestWaitForWorkloads(t *testing.T) {
	ctx := context.Background()
	objs, err := TierManifests(testNamespace, TierFrontend)
	require.NoError(t, err)

	w := newTestWorkshop()
	ready := newTestRunOptions(t, readyDeployment("frontend", 2, 2))
	assert.NoError(t, w.waitForWorkloads(ctx, objs, ready))

	notReady := newTestRunOptions(t, readyDeployment("frontend", 2, 1))
	err = w.waitForWorkloads(ctx, objs, notReady)
	assert.ErrorContains(t, err, "Deployment/shop/frontend is not ready")
}

func TestWorkloadReady(t *testing.T) {
	var tests = []struct {
		name  string
		given client.Object
		ready bool
	}{
		{name: "all replicas available", given: readyDeployment("d", 2, 2), ready: true},
		{name: "missing replicas", given: readyDeployment("d", 2, 1)},
		{
			name: "statefulset ready",
			given: &appsv1.StatefulSet{
				Spec:   appsv1.StatefulSetSpec{Replicas: ptr.To(int32(1))},
				Status: appsv1.StatefulSetStatus{ReadyReplicas: 1},
			},
			ready: true,
		},
		{
			name: "statefulset rollout pending",
			given: &appsv1.StatefulSet{
				ObjectMeta: metav1.ObjectMeta{Generation: 2},
				Spec:       appsv1.StatefulSetSpec{Replicas: ptr.To(int32(1))},
				Status:     appsv1.StatefulSetStatus{ReadyReplicas: 1, ObservedGeneration: 1},
			},
		},
		{name: "missing workload", given: nil},
		{name: "not a workload", given: &corev1.ConfigMap{}, ready: true},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			ready, reason := WorkloadReady(test.given)
			assert.Equal(t, test.ready, ready)
			if !test.ready {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestState(t *testing.T) {
	ctx := context.Background()
	w := newTestWorkshop()
	opts := newTestRunOptions(t)

	state, err := w.ReadState(ctx, opts)
	require.NoError(t, err)
	assert.Empty(t, state.Scenario)

	require.NoError(t, w.ClearScenario(ctx, opts), "clearing a missing state is fine")
	require.NoError(t, w.RecordScenario(ctx, "03-service-selector", opts))
	state, err = w.ReadState(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, "03-service-selector", state.Scenario)
	assert.False(t, state.AppliedAt.IsZero())

	require.NoError(t, w.ClearScenario(ctx, opts))
	state, err = w.ReadState(ctx, opts)
	require.NoError(t, err)
	assert.Empty(t, state.Scenario)
	assert.True(t, state.AppliedAt.IsZero())

	assert.Error(t, w.RecordScenario(ctx, "", opts))
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	w := newTestWorkshop()
	opts := newTestRunOptions(t,
		&corev1.Node{
			ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
			Spec: corev1.NodeSpec{Taints: []corev1.Taint{
				{Key: MaintenanceTaintKey, Value: "true", Effect: corev1.TaintEffectNoSchedule},
			}},
		},
	)
	require.NoError(t, w.Deploy(ctx, nil, opts))
	require.NoError(t, w.Cleanup(ctx, opts))
	require.NoError(t, w.Cleanup(ctx, opts), "cleanup tolerates absence")

	for _, obj := range []client.Object{
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: testNamespace}},
		&schedulingv1.PriorityClass{ObjectMeta: metav1.ObjectMeta{Name: "breakfix-standard"}},
		&corev1.PersistentVolume{ObjectMeta: metav1.ObjectMeta{Name: "breakfix-postgres"}},
	} {
		err := (&k8s.Task{
			It:       "should not find " + k8sutil.DescribeObj(obj),
			Action:   k8s.ActionTypeGet,
			Resource: obj,
			Assert:   k8s.AssertTypeIsNotFound,
		}).Run(ctx, opts)
		assert.NoError(t, err)
	}

	node := &corev1.Node{}
	require.NoError(t, opts.Client.Get(ctx, client.ObjectKey{Name: "node-1"}, node))
	assert.Empty(t, node.Spec.Taints)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	w := newTestWorkshop()
	opts := newTestRunOptions(t)

	assert.Error(t, w.Reset(ctx, opts), "reset needs a deployed application")

	require.NoError(t, w.Deploy(ctx, nil, opts))

	backend := &appsv1.Deployment{}
	key := client.ObjectKey{Namespace: testNamespace, Name: "backend"}
	require.NoError(t, opts.Client.Get(ctx, key, backend))
	backend.Spec.Template.Spec.Containers[0].Command = []string{"/bin/false"}
	require.NoError(t, opts.Client.Update(ctx, backend))

	denyAll := &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "deny-all",
			Namespace: testNamespace,
			Labels:    map[string]string{ScenarioLabel: "12-network-policy"},
		},
	}
	require.NoError(t, opts.Client.Create(ctx, denyAll))
	require.NoError(t, opts.Client.Delete(ctx, &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "backend-config", Namespace: testNamespace}}))
	require.NoError(t, w.RecordScenario(ctx, "01-crashloop", opts))

	require.NoError(t, w.Reset(ctx, opts))

	require.NoError(t, opts.Client.Get(ctx, key, backend))
	assert.Empty(t, backend.Spec.Template.Spec.Containers[0].Command)

	assert.NoError(t, k8s.Tasks{
		{
			It:       "should not find the scenario leftover",
			Action:   k8s.ActionTypeGet,
			Resource: denyAll,
			Assert:   k8s.AssertTypeIsNotFound,
		},
		{
			It:       "should find the restored backend config",
			Action:   k8s.ActionTypeGet,
			Resource: &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "backend-config", Namespace: testNamespace}},
			Assert:   k8s.AssertTypeIsFound,
		},
	}.Run(ctx, opts))

	state, err := w.ReadState(ctx, opts)
	require.NoError(t, err)
	assert.Empty(t, state.Scenario)
}

// lagBehind reports workshop volumes as Bound for the given number of
// lists the way the volume controller does right after a claim is gone
func lagBehind(lists int) interceptor.Funcs {
	var calls int
	return interceptor.Funcs{
		List: func(ctx context.Context, c client.WithWatch, list client.ObjectList, opts ...client.ListOption) error {
			if err := c.List(ctx, list, opts...); err != nil {
				return err
			}
			pvs, ok := list.(*corev1.PersistentVolumeList)
			if !ok {
				return nil
			}
			calls++
			if calls <= lists {
				for i := range pvs.Items {
					pvs.Items[i].Status.Phase = corev1.VolumeBound
				}
			}
			return nil
		},
	}
}

func TestReleaseVolumes(t *testing.T) {
	var tests = map[string]struct {
		lag       int
		wantClaim bool
		isErr     bool
	}{
		"released": {},
		"released after the controller caught up": {
			lag: 3,
		},
		"never released": {
			lag:       1000,
			wantClaim: true,
			isErr:     true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w := newTestWorkshop()
			released := &corev1.PersistentVolume{
				ObjectMeta: metav1.ObjectMeta{Name: "breakfix-spare", Labels: map[string]string{PartOfLabel: "breakfix"}},
				Spec: corev1.PersistentVolumeSpec{
					ClaimRef: &corev1.ObjectReference{Namespace: testNamespace, Name: "reports-data"},
				},
				Status: corev1.PersistentVolumeStatus{Phase: corev1.VolumeReleased},
			}
			klient := fake.NewClientBuilder().
				WithScheme(scheme.Scheme).
				WithObjects(released).
				WithInterceptorFuncs(lagBehind(tc.lag)).
				Build()
			opts := &k8s.RunOptions{Client: klient, Scheme: scheme.Scheme}

			err := w.ReleaseVolumes(ctx, opts)
			if tc.isErr {
				assert.ErrorContains(t, err, `volume "breakfix-spare" is still bound to deleted claim shop/reports-data`)
			} else {
				require.NoError(t, err)
			}

			pv := &corev1.PersistentVolume{}
			require.NoError(t, klient.Get(ctx, client.ObjectKeyFromObject(released), pv))
			assert.Equal(t, tc.wantClaim, pv.Spec.ClaimRef != nil)
		})
	}
}

func TestReleaseVolumesKeepsBoundClaims(t *testing.T) {
	ctx := context.Background()
	w := newTestWorkshop()
	claim := &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{Namespace: testNamespace, Name: "postgres-data"}}
	bound := &corev1.PersistentVolume{
		ObjectMeta: metav1.ObjectMeta{Name: "breakfix-postgres", Labels: map[string]string{PartOfLabel: "breakfix"}},
		Spec: corev1.PersistentVolumeSpec{
			ClaimRef: &corev1.ObjectReference{Namespace: testNamespace, Name: "postgres-data"},
		},
		Status: corev1.PersistentVolumeStatus{Phase: corev1.VolumeBound},
	}
	opts := newTestRunOptions(t, claim, bound)

	require.NoError(t, w.ReleaseVolumes(ctx, opts))

	pv := &corev1.PersistentVolume{}
	require.NoError(t, opts.Client.Get(ctx, client.ObjectKeyFromObject(bound), pv))
	assert.NotNil(t, pv.Spec.ClaimRef)
}
