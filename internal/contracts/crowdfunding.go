package contracts

// CrowdfundingABI describes the crowdfunding contract entry points.
const CrowdfundingABI = `[
  {"type":"function","name":"initialize","stateMutability":"nonpayable","inputs":[
    {"name":"owner","type":"address"},
    {"name":"goal","type":"int128"},
    {"name":"deadline","type":"uint64"},
    {"name":"xlm_token","type":"address"},
    {"name":"title","type":"string"},
    {"name":"description","type":"string"},
    {"name":"image_url","type":"string"},
    {"name":"min_donation","type":"int128"}],"outputs":[]},
  {"type":"function","name":"donate","stateMutability":"nonpayable","inputs":[
    {"name":"donor","type":"address"},
    {"name":"amount","type":"int128"}],"outputs":[]},
  {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[
    {"name":"owner","type":"address"}],"outputs":[]},
  {"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[
    {"name":"donor","type":"address"}],"outputs":[]},
  {"type":"function","name":"get_total_raised","stateMutability":"view","inputs":[],"outputs":[
    {"name":"","type":"int128"}]},
  {"type":"function","name":"get_donation","stateMutability":"view","inputs":[
    {"name":"donor","type":"address"}],"outputs":[{"name":"","type":"int128"}]},
  {"type":"function","name":"get_is_already_init","stateMutability":"view","inputs":[],"outputs":[
    {"name":"","type":"bool"}]},
  {"type":"function","name":"get_campaign_info","stateMutability":"view","inputs":[],"outputs":[
    {"name":"owner","type":"address"},
    {"name":"goal","type":"int128"},
    {"name":"deadline","type":"uint64"},
    {"name":"title","type":"string"},
    {"name":"description","type":"string"},
    {"name":"image_url","type":"string"},
    {"name":"min_donation","type":"int128"},
    {"name":"status","type":"uint32"}]},
  {"type":"function","name":"get_campaign_status","stateMutability":"view","inputs":[],"outputs":[
    {"name":"","type":"uint32"}]},
  {"type":"function","name":"get_all_donors","stateMutability":"view","inputs":[],"outputs":[
    {"name":"","type":"tuple[]","components":[
      {"name":"donor","type":"address"},
      {"name":"amount","type":"int128"}]}]},
  {"type":"function","name":"get_progress_percentage","stateMutability":"view","inputs":[],"outputs":[
    {"name":"","type":"uint32"}]},
  {"type":"function","name":"is_deadline_passed","stateMutability":"view","inputs":[],"outputs":[
    {"name":"","type":"bool"}]},
  {"type":"function","name":"get_min_donation","stateMutability":"view","inputs":[],"outputs":[
    {"name":"","type":"int128"}]}
]`
