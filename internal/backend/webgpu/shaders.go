package webgpu

// WGSL compute shaders for run-length sequence scoring.
// Using string constants instead of embed for simplicity.

// workgroupSize is the default number of threads per workgroup.
const workgroupSize = 256

// runlengthCostShader computes one batch element's negative log-likelihood
// per invocation. Each thread runs the full forward recursion over its
// element's blocks, so parallelism comes from the batch dimension.
//
// WGSL has no infinity literal, so NEG_HUGE stands in for log(0). The host
// clamps uploaded emissions to NEG_HUGE and maps scores at or above
// -BLOCKED back to +Inf after readback.
const runlengthCostShader = `
@group(0) @binding(0) var<storage, read> logprob: array<f32>;
@group(0) @binding(1) var<storage, read> labels: array<i32>;
@group(0) @binding(2) var<storage, read> posmeta: array<i32>;
@group(0) @binding(3) var<storage, read_write> alpha: array<f32>;
@group(0) @binding(4) var<storage, read_write> score: array<f32>;

struct Params {
    nstate: u32,
    nblk: u32,
    nbatch: u32,
    max_pos: u32,
}
@group(0) @binding(5) var<uniform> params: Params;

const NEG_HUGE: f32 = -3.0e38;
const BLOCKED: f32 = -1.5e38;

fn log_add_exp(a: f32, b: f32) -> f32 {
    let hi = max(a, b);
    let lo = min(a, b);
    if (hi <= BLOCKED) {
        return NEG_HUGE;
    }
    return hi + log(1.0 + exp(lo - hi));
}

fn add_emission(sum: f32, emit: f32) -> f32 {
    if (sum <= BLOCKED || emit <= BLOCKED) {
        return NEG_HUGE;
    }
    return max(sum + emit, NEG_HUGE);
}

@compute @workgroup_size(256)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let b = global_id.x;
    if (b >= params.nbatch) {
        return;
    }

    let off = u32(posmeta[2u * b]);
    let npos = u32(posmeta[2u * b + 1u]);

    // Degenerate elements are resolved on the host.
    if (npos == 0u || npos > params.nblk) {
        score[b] = 0.0;
        return;
    }

    let base = b * params.max_pos;
    let lp_base = b * params.nblk * params.nstate;

    // Block 0: the path must start at position 0.
    alpha[base] = logprob[lp_base + u32(labels[off])];
    for (var p: u32 = 1u; p < npos; p = p + 1u) {
        alpha[base + p] = NEG_HUGE;
    }

    // Remaining blocks, positions walked high to low so the in-place row
    // still holds previous-block values for p and p-1.
    for (var t: u32 = 1u; t < params.nblk; t = t + 1u) {
        let row = lp_base + t * params.nstate;
        for (var p: u32 = npos - 1u; p >= 1u; p = p - 1u) {
            let stay = alpha[base + p];
            let step = alpha[base + p - 1u];
            let emit = logprob[row + u32(labels[off + p])];
            alpha[base + p] = add_emission(log_add_exp(stay, step), emit);
        }
        alpha[base] = add_emission(alpha[base], logprob[row + u32(labels[off])]);
    }

    score[b] = -alpha[base + npos - 1u];
}
`
