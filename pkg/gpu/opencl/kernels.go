package opencl

// Kernel entry points compiled from programSource.
const (
	kernelDistancesSimple  = "distances_simple"
	kernelDistancesChunked = "distances_chunked"
	kernelArgminDistances  = "argmin_distances"
	kernelArgminPartials   = "argmin_partials"
	kernelUpdate           = "update_neighborhood"
)

var kernelNames = []string{
	kernelDistancesSimple,
	kernelDistancesChunked,
	kernelArgminDistances,
	kernelArgminPartials,
	kernelUpdate,
}

// programSource holds every SOM kernel. Metric ids match kernel.Metric and
// pair_t matches kernel.Pair (float32 value, int32 index).
//
// Reductions keep the smaller value and, on equal values, the lower index,
// so results do not depend on group size or scheduling.
const programSource = `
typedef struct {
    float value;
    int   index;
} pair_t;

#define METRIC_SQUARED_EUCLIDEAN 0
#define METRIC_MANHATTAN         1
#define METRIC_CHEBYSHEV         2
#define METRIC_SPECTRAL_ANGLE    3

inline pair_t pair_min(pair_t a, pair_t b) {
    int an = isnan(a.value), bn = isnan(b.value);
    if (an != bn) {
        return an ? b : a;
    }
    if (!an && b.value != a.value) {
        return b.value < a.value ? b : a;
    }
    return b.index < a.index ? b : a;
}

inline pair_t pair_sentinel(void) {
    pair_t p;
    p.value = INFINITY;
    p.index = INT_MAX;
    return p;
}

inline float finish_angle(float dot, float ww, float qq) {
    if (ww == 0.0f || qq == 0.0f) {
        return M_PI_F / 2.0f;
    }
    float c = clamp(dot / (sqrt(ww) * sqrt(qq)), -1.0f, 1.0f);
    return acos(c);
}

__kernel void distances_simple(
    __global const float* grid,
    __global const float* query,
    __global float* distances,
    const int neurons,
    const int dim,
    const int metric)
{
    const int n = get_global_id(0);
    if (n >= neurons) {
        return;
    }
    __global const float* w = grid + (size_t)n * dim;
    float acc = 0.0f;
    float ww = 0.0f;
    float qq = 0.0f;
    for (int i = 0; i < dim; i++) {
        const float d = w[i] - query[i];
        switch (metric) {
        case METRIC_MANHATTAN:
            acc += fabs(d);
            break;
        case METRIC_CHEBYSHEV:
            acc = fmax(acc, fabs(d));
            break;
        case METRIC_SPECTRAL_ANGLE:
            acc += w[i] * query[i];
            ww += w[i] * w[i];
            qq += query[i] * query[i];
            break;
        default:
            acc += d * d;
        }
    }
    distances[n] = metric == METRIC_SPECTRAL_ANGLE ? finish_angle(acc, ww, qq) : acc;
}

__kernel void distances_chunked(
    __global const float* grid,
    __global const float* query,
    __global float* distances,
    const int dim,
    const int metric,
    __local float* acc,
    __local float* ww,
    __local float* qq)
{
    const int n = get_group_id(0);
    const int lane = get_local_id(0);
    const int lanes = get_local_size(0);
    const int chunk = (dim + lanes - 1) / lanes;
    const int lo = min(lane * chunk, dim);
    const int hi = min(lo + chunk, dim);
    __global const float* w = grid + (size_t)n * dim;

    float a = 0.0f;
    float b = 0.0f;
    float c = 0.0f;
    for (int i = lo; i < hi; i++) {
        const float d = w[i] - query[i];
        switch (metric) {
        case METRIC_MANHATTAN:
            a += fabs(d);
            break;
        case METRIC_CHEBYSHEV:
            a = fmax(a, fabs(d));
            break;
        case METRIC_SPECTRAL_ANGLE:
            a += w[i] * query[i];
            b += w[i] * w[i];
            c += query[i] * query[i];
            break;
        default:
            a += d * d;
        }
    }
    acc[lane] = a;
    ww[lane] = b;
    qq[lane] = c;
    barrier(CLK_LOCAL_MEM_FENCE);

    for (int stride = lanes / 2; stride > 0; stride >>= 1) {
        if (lane < stride) {
            if (metric == METRIC_CHEBYSHEV) {
                acc[lane] = fmax(acc[lane], acc[lane + stride]);
            } else {
                acc[lane] += acc[lane + stride];
                ww[lane] += ww[lane + stride];
                qq[lane] += qq[lane + stride];
            }
        }
        barrier(CLK_LOCAL_MEM_FENCE);
    }

    if (lane == 0) {
        distances[n] = metric == METRIC_SPECTRAL_ANGLE ? finish_angle(acc[0], ww[0], qq[0]) : acc[0];
    }
}

inline void reduce_local(__local pair_t* scratch, __global pair_t* out) {
    const int lid = get_local_id(0);
    barrier(CLK_LOCAL_MEM_FENCE);
    for (int stride = get_local_size(0) / 2; stride > 0; stride >>= 1) {
        if (lid < stride) {
            scratch[lid] = pair_min(scratch[lid], scratch[lid + stride]);
        }
        barrier(CLK_LOCAL_MEM_FENCE);
    }
    if (lid == 0) {
        out[get_group_id(0)] = scratch[0];
    }
}

__kernel void argmin_distances(
    __global const float* distances,
    __global pair_t* out,
    const int n,
    __local pair_t* scratch)
{
    const int gid = get_global_id(0);
    pair_t p = pair_sentinel();
    if (gid < n) {
        p.value = distances[gid];
        p.index = gid;
    }
    scratch[get_local_id(0)] = p;
    reduce_local(scratch, out);
}

__kernel void argmin_partials(
    __global const pair_t* in,
    __global pair_t* out,
    const int n,
    __local pair_t* scratch)
{
    const int gid = get_global_id(0);
    scratch[get_local_id(0)] = gid < n ? in[gid] : pair_sentinel();
    reduce_local(scratch, out);
}

__kernel void update_neighborhood(
    __global float* grid,
    __global const float* query,
    const int width,
    const int height,
    const int dim,
    const int x0,
    const int y0,
    const int radius,
    const float sigma,
    const float learn_rate,
    const int toroidal)
{
    const int side = 2 * radius + 1;
    const int item = get_global_id(0);
    if (item >= side * side) {
        return;
    }
    const int dx = item % side - radius;
    const int dy = item / side - radius;
    int x = x0 + dx;
    int y = y0 + dy;
    if (toroidal) {
        x = (x % width + width) % width;
        y = (y % height + height) % height;
    } else if (x < 0 || x >= width || y < 0 || y >= height) {
        return;
    }

    const int d2 = dx * dx + dy * dy;
    const float a = d2 == 0 ? learn_rate : learn_rate * exp(-(float)d2 / (2.0f * sigma * sigma));
    if (a == 0.0f) {
        return;
    }
    const float keep = 1.0f - a;
    __global float* w = grid + ((size_t)y * width + x) * dim;
    for (int i = 0; i < dim; i++) {
        w[i] = w[i] * keep + query[i] * a;
    }
}
`
